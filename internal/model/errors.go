package model

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, capture, backend, system
	Action   string // ユーザー向け対処方法
	Status   int    // HTTPステータス（ブリッジで使用）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeEmptySubmission      = "EMPTY_SUBMISSION"
	ErrCodePhotoDecode          = "PHOTO_DECODE_FAILED"
	ErrCodeSubmissionFailed     = "SUBMISSION_FAILED"
	ErrCodeSubmissionInProgress = "SUBMISSION_IN_PROGRESS"
	ErrCodeSubmissionStale      = "SUBMISSION_STALE"
	ErrCodeEndpointUnreachable  = "ENDPOINT_UNREACHABLE"
	ErrCodeMissingZipcode       = "MISSING_ZIPCODE"
	ErrCodeMissingSubject       = "MISSING_SUBJECT"
	ErrCodeNotAuthenticated     = "NOT_AUTHENTICATED"
	ErrCodeSessionLoading       = "SESSION_LOADING"
	ErrCodePhotoNotFound        = "PHOTO_NOT_FOUND"
	ErrCodeNoResult             = "NO_RESULT"
	ErrCodeDishNotFound         = "DISH_NOT_FOUND"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeUnknownOption        = "UNKNOWN_OPTION"
	ErrCodeOptionUnavailable    = "OPTION_UNAVAILABLE"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// 呼び出し元が errors.Is で判定する番兵エラー。
var (
	// ErrEmptySubmission は写真が1枚もない状態で送信しようとした場合のエラー。
	ErrEmptySubmission = errors.New("no photos captured")
	// ErrSubmissionInProgress は送信中に再度送信しようとした場合のエラー。
	ErrSubmissionInProgress = errors.New("a submission is already in progress")
	// ErrSubmissionStale は送信中にログアウト等が行われ、結果を破棄した場合のエラー。
	ErrSubmissionStale = errors.New("submission result discarded after session change")
	// ErrMissingZipcode は郵便番号が空の場合のエラー。
	ErrMissingZipcode = errors.New("zipcode is required")
	// ErrMissingSubject はIdPのクレームにsubが含まれない場合のエラー。
	ErrMissingSubject = errors.New("provider claims have no subject")
	// ErrIndexOutOfRange は存在しない写真インデックスを指定した場合のエラー。
	ErrIndexOutOfRange = errors.New("photo index out of range")
	// ErrNoResult は解析結果がまだ存在しない場合のエラー。
	ErrNoResult = errors.New("no analysis result available")
	// ErrDishNotFound は解析結果に料理名が含まれない場合のエラー。
	ErrDishNotFound = errors.New("analysis result has no food_name")
	// ErrUnknownOption は未知のレシピルートを指定した場合のエラー。
	ErrUnknownOption = errors.New("unknown recipe option")
	// ErrOptionUnavailable は解析結果に指定ルートのレシピが含まれない場合のエラー。
	ErrOptionUnavailable = errors.New("analysis result has no recipe for option")
)

// PersistenceError はローカルストレージの読み書き・削除の失敗を表す。
// 呼び出し元はログに記録して状態遷移を継続する。
type PersistenceError struct {
	Op  string // save, load, clear
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// EndpointUnreachableError は全ての候補ベースURLでトランスポートエラーになったことを表す。
type EndpointUnreachableError struct {
	Path     string
	Attempts []EndpointAttempt
}

// EndpointAttempt は候補ごとの試行結果。
type EndpointAttempt struct {
	BaseURL string
	Err     error
}

func (e *EndpointUnreachableError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.BaseURL, a.Err))
	}
	return fmt.Sprintf("no endpoint reachable for %s (%s)", e.Path, strings.Join(parts, "; "))
}

// EnrichmentFailedError はログイン後のプロフィール取得・作成の失敗を表す。
// ログイン自体は成功として扱い、フォールバックプロフィールで補う。
type EnrichmentFailedError struct {
	Sub string
	Err error
}

func (e *EnrichmentFailedError) Error() string {
	return fmt.Sprintf("profile enrichment failed for %s: %v", e.Sub, e.Err)
}

func (e *EnrichmentFailedError) Unwrap() error { return e.Err }

// PhotoDecodeError は写真のデコード失敗を表す。Indexは0始まり。
type PhotoDecodeError struct {
	Index int
	URI   string
	Err   error
}

func (e *PhotoDecodeError) Error() string {
	return fmt.Sprintf("photo %d could not be decoded: %v", e.Index, e.Err)
}

func (e *PhotoDecodeError) Unwrap() error { return e.Err }

// SubmissionFailedError はscan-food呼び出しのトランスポートまたはHTTPレベルの失敗を表す。
type SubmissionFailedError struct {
	Cause error
}

func (e *SubmissionFailedError) Error() string {
	return fmt.Sprintf("submission failed: %v", e.Cause)
}

func (e *SubmissionFailedError) Unwrap() error { return e.Cause }

// ToAPIError はドメインエラーをUI向けのAPIErrorに変換する。
// 既知でないエラーは内部エラーとして扱う。
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var decodeErr *PhotoDecodeError
	var unreachableErr *EndpointUnreachableError
	var submitErr *SubmissionFailedError

	switch {
	case errors.Is(err, ErrEmptySubmission):
		return &APIError{
			Code:     ErrCodeEmptySubmission,
			Message:  "Please take or upload at least one photo.",
			Category: "capture",
			Action:   "Add a photo of your dish and press Generate again.",
			Status:   http.StatusBadRequest,
		}
	case errors.Is(err, ErrSubmissionInProgress):
		return &APIError{
			Code:     ErrCodeSubmissionInProgress,
			Message:  "Your photos are already being analyzed.",
			Category: "capture",
			Action:   "Wait for the current analysis to finish.",
			Status:   http.StatusConflict,
		}
	case errors.Is(err, ErrSubmissionStale):
		return &APIError{
			Code:     ErrCodeSubmissionStale,
			Message:  "The analysis finished after your session changed and was discarded.",
			Category: "capture",
			Action:   "Snap your dish again.",
			Status:   http.StatusConflict,
		}
	case errors.Is(err, ErrMissingZipcode):
		return &APIError{
			Code:     ErrCodeMissingZipcode,
			Message:  "A zipcode is required to suggest local ingredients.",
			Category: "validation",
			Action:   "Enter your zipcode and try again.",
			Status:   http.StatusBadRequest,
		}
	case errors.Is(err, ErrMissingSubject):
		return &APIError{
			Code:     ErrCodeMissingSubject,
			Message:  "The identity provider did not return a user id.",
			Category: "auth",
			Action:   "Sign in again.",
			Status:   http.StatusBadGateway,
		}
	case errors.Is(err, ErrIndexOutOfRange):
		return &APIError{
			Code:     ErrCodePhotoNotFound,
			Message:  "That photo no longer exists.",
			Category: "capture",
			Action:   "Refresh your photo list.",
			Status:   http.StatusNotFound,
		}
	case errors.Is(err, ErrNoResult):
		return &APIError{
			Code:     ErrCodeNoResult,
			Message:  "There is no analysis result yet.",
			Category: "capture",
			Action:   "Snap a dish and press Generate.",
			Status:   http.StatusNotFound,
		}
	case errors.Is(err, ErrDishNotFound):
		return &APIError{
			Code:     ErrCodeDishNotFound,
			Message:  "We could not recognize a dish in your photos.",
			Category: "capture",
			Action:   "Try another photo or press Something else?.",
			Status:   http.StatusUnprocessableEntity,
		}
	case errors.Is(err, ErrUnknownOption):
		return &APIError{
			Code:     ErrCodeUnknownOption,
			Message:  "Choose original, local or sustainable.",
			Category: "validation",
			Action:   "Pick one of the suggested recipes.",
			Status:   http.StatusBadRequest,
		}
	case errors.Is(err, ErrOptionUnavailable):
		return &APIError{
			Code:     ErrCodeOptionUnavailable,
			Message:  "That recipe is not available for this dish.",
			Category: "capture",
			Action:   "Pick another recipe or snap the dish again.",
			Status:   http.StatusUnprocessableEntity,
		}
	case errors.As(err, &decodeErr):
		return &APIError{
			Code:     ErrCodePhotoDecode,
			Message:  fmt.Sprintf("Photo %d could not be read.", decodeErr.Index+1),
			Category: "capture",
			Action:   "Remove that photo or retake it.",
			Status:   http.StatusUnprocessableEntity,
		}
	case errors.As(err, &unreachableErr):
		return &APIError{
			Code:     ErrCodeEndpointUnreachable,
			Message:  "The recipe server could not be reached.",
			Category: "backend",
			Action:   "Check your connection and try again.",
			Status:   http.StatusBadGateway,
		}
	case errors.As(err, &submitErr):
		return &APIError{
			Code:     ErrCodeSubmissionFailed,
			Message:  "Your photos could not be analyzed.",
			Category: "backend",
			Action:   "Press Generate to try again. Your photos are kept.",
			Status:   http.StatusBadGateway,
		}
	default:
		return NewInternalError()
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please wait and try again.",
		Status:   http.StatusInternalServerError,
	}
}

// NewNotAuthenticatedError は未ログイン状態でのアクセスエラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "You are not signed in.",
		Category: "auth",
		Action:   "Sign in to continue.",
		Status:   http.StatusUnauthorized,
	}
}

// NewSessionLoadingError はセッション復元中のアクセスエラーを生成する。
func NewSessionLoadingError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionLoading,
		Message:  "The session is still loading.",
		Category: "auth",
		Action:   "Retry in a moment.",
		Status:   http.StatusServiceUnavailable,
	}
}

// NewInvalidRequestError はリクエスト形式の誤りを表すエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "Check the request and try again.",
		Status:   http.StatusBadRequest,
	}
}
