// Package upload は撮影した写真を解析バックエンドへ送信し、結果を結果画面へ渡す。
package upload

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hitoshi/snapchef/internal/backend"
	"github.com/hitoshi/snapchef/internal/model"
	"github.com/hitoshi/snapchef/internal/navigation"
	"github.com/hitoshi/snapchef/internal/results"
)

// decodeConcurrency は写真デコードの最大並列数。
const decodeConcurrency = 4

// Scanner は写真を解析バックエンドへ送信する。
type Scanner interface {
	ScanFood(ctx context.Context, req *backend.ScanRequest) (model.AnalysisResult, error)
}

// PhotoSource は送信対象の写真を提供する。
type PhotoSource interface {
	Snapshot() ([]model.CapturedPhoto, uint64)
	Epoch() uint64
}

// Observer は送信結果を受け取る。メトリクス記録に使う。
type Observer interface {
	RecordSubmission(outcome string, photos int, duration time.Duration)
}

// SubmitOptions は送信時の任意入力。
type SubmitOptions struct {
	Zipcode  string
	MenuText string
	UserText string
}

// Coordinator は写真の送信を調停する。同時に実行できる送信は1件のみ。
type Coordinator struct {
	photos         PhotoSource
	decoder        PhotoDecoder
	scanner        Scanner
	exchange       *results.Exchange
	navigator      navigation.Navigator
	logger         *slog.Logger
	observer       Observer
	defaultZipcode string

	inFlight *semaphore.Weighted
	now      func() time.Time
}

// Config はCoordinatorの依存関係。
type Config struct {
	Photos         PhotoSource
	Decoder        PhotoDecoder
	Scanner        Scanner
	Exchange       *results.Exchange
	Navigator      navigation.Navigator
	Logger         *slog.Logger
	Observer       Observer
	DefaultZipcode string
}

// NewCoordinator はCoordinatorを生成する。
func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		photos:         cfg.Photos,
		decoder:        cfg.Decoder,
		scanner:        cfg.Scanner,
		exchange:       cfg.Exchange,
		navigator:      cfg.Navigator,
		logger:         cfg.Logger,
		observer:       cfg.Observer,
		defaultZipcode: cfg.DefaultZipcode,
		inFlight:       semaphore.NewWeighted(1),
		now:            time.Now,
	}
	if c.decoder == nil {
		c.decoder = URIDecoder{}
	}
	if c.navigator == nil {
		c.navigator = navigation.Discard{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Submit は現在の写真を全てscan-foodへ送信する。
// 写真が無い場合やデコードに失敗した場合は通信を行わない。
// 送信に失敗した場合、写真一覧と前回の結果はそのまま残る。
// 成功した場合は結果と写真のコピーを結果スロットへ書き込み、結果画面へ遷移する。
func (c *Coordinator) Submit(ctx context.Context, opts SubmitOptions) (*results.Entry, error) {
	if !c.inFlight.TryAcquire(1) {
		c.record("in_progress", 0, 0)
		return nil, model.ErrSubmissionInProgress
	}
	defer c.inFlight.Release(1)

	start := c.now()
	ticket := c.exchange.Begin()
	photos, epoch := c.photos.Snapshot()

	if len(photos) == 0 {
		c.record("empty", 0, 0)
		return nil, model.ErrEmptySubmission
	}

	zipcode := opts.Zipcode
	if zipcode == "" {
		zipcode = c.defaultZipcode
	}
	if zipcode == "" {
		c.record("invalid", len(photos), 0)
		return nil, model.ErrMissingZipcode
	}

	files, err := c.decodeAll(ctx, photos)
	if err != nil {
		c.logger.Warn("写真のデコードに失敗したため送信を中止しました",
			slog.Int("photos", len(photos)),
			slog.String("error", err.Error()),
		)
		c.record("decode_failed", len(photos), c.now().Sub(start))
		return nil, err
	}

	submissionID := uuid.NewString()
	c.logger.Info("写真を送信します",
		slog.String("submission_id", submissionID),
		slog.Int("photos", len(photos)),
		slog.String("zipcode", zipcode),
	)

	result, err := c.scanner.ScanFood(ctx, &backend.ScanRequest{
		Files:    files,
		Zipcode:  zipcode,
		MenuText: opts.MenuText,
		UserText: opts.UserText,
	})
	if err != nil {
		c.logger.Error("写真の解析に失敗しました",
			slog.String("submission_id", submissionID),
			slog.String("error", err.Error()),
		)
		c.record("failed", len(photos), c.now().Sub(start))
		return nil, &model.SubmissionFailedError{Cause: err}
	}

	entry := &results.Entry{
		SubmissionID: submissionID,
		Result:       result,
		Photos:       photos,
		Zipcode:      zipcode,
		ReceivedAt:   c.now(),
	}

	// 送信中にログアウトや写真の破棄があった場合は書き込まない
	if c.photos.Epoch() != epoch || !c.exchange.Commit(ticket, entry) {
		c.logger.Info("セッションが変わったため解析結果を破棄しました",
			slog.String("submission_id", submissionID),
		)
		c.record("stale", len(photos), c.now().Sub(start))
		return nil, model.ErrSubmissionStale
	}

	c.logger.Info("解析結果を受信しました",
		slog.String("submission_id", submissionID),
		slog.Duration("duration", c.now().Sub(start)),
	)
	c.record("success", len(photos), c.now().Sub(start))
	c.navigator.Navigate(navigation.RouteResults)

	return entry, nil
}

// errEarlierPhotoFailed は前の写真のデコード失敗により取り消されたことを示す。
var errEarlierPhotoFailed = errors.New("an earlier photo failed to decode")

// decodeAll は全ての写真を並列にデコードする。
// i番目の写真が失敗すると、それより後ろの写真のデコードは取り消される。
// 前の写真は取り消さないため、返すエラーは常に最も小さい失敗インデックスのものになる。
func (c *Coordinator) decodeAll(ctx context.Context, photos []model.CapturedPhoto) ([]backend.FilePart, error) {
	files := make([]backend.FilePart, len(photos))
	errs := make([]error, len(photos))
	ctxs := make([]context.Context, len(photos))
	cancels := make([]context.CancelCauseFunc, len(photos))
	for i := range photos {
		ctxs[i], cancels[i] = context.WithCancelCause(ctx)
	}
	defer func() {
		for _, cancel := range cancels {
			cancel(nil)
		}
	}()

	var g errgroup.Group
	g.SetLimit(decodeConcurrency)
	for i, p := range photos {
		g.Go(func() error {
			if ctxs[i].Err() != nil {
				errs[i] = context.Cause(ctxs[i])
				return errs[i]
			}
			files[i], errs[i] = c.decoder.Decode(ctxs[i], p)
			if errs[i] != nil {
				for _, cancel := range cancels[i+1:] {
					cancel(errEarlierPhotoFailed)
				}
			}
			return errs[i]
		})
	}
	if err := g.Wait(); err == nil {
		return files, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, err := range errs {
		if err == nil || errors.Is(context.Cause(ctxs[i]), errEarlierPhotoFailed) {
			continue
		}
		return nil, &model.PhotoDecodeError{Index: i, URI: photos[i].URI, Err: err}
	}
	return nil, errEarlierPhotoFailed
}

func (c *Coordinator) record(outcome string, photos int, d time.Duration) {
	if c.observer != nil {
		c.observer.RecordSubmission(outcome, photos, d)
	}
}
