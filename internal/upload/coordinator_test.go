package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/snapchef/internal/backend"
	"github.com/hitoshi/snapchef/internal/capture"
	"github.com/hitoshi/snapchef/internal/model"
	"github.com/hitoshi/snapchef/internal/navigation"
	"github.com/hitoshi/snapchef/internal/recipe"
	"github.com/hitoshi/snapchef/internal/results"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func pngDataURI() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)
}

// fakeScanner はScannerのテスト用実装。呼び出し回数を記録する。
type fakeScanner struct {
	calls  atomic.Int32
	scanFn func(ctx context.Context, req *backend.ScanRequest) (model.AnalysisResult, error)
}

func (f *fakeScanner) ScanFood(ctx context.Context, req *backend.ScanRequest) (model.AnalysisResult, error) {
	f.calls.Add(1)
	return f.scanFn(ctx, req)
}

// fakeDecoder はPhotoDecoderのテスト用実装。
type fakeDecoder struct {
	decodeFn func(photo model.CapturedPhoto) (backend.FilePart, error)
}

func (f *fakeDecoder) Decode(_ context.Context, photo model.CapturedPhoto) (backend.FilePart, error) {
	return f.decodeFn(photo)
}

type recordingNavigator struct {
	mu     sync.Mutex
	routes []navigation.Route
}

func (n *recordingNavigator) Navigate(r navigation.Route) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, r)
}

type fixture struct {
	session  *capture.Session
	exchange *results.Exchange
	scanner  *fakeScanner
	nav      *recordingNavigator
	coord    *Coordinator
}

func newFixture(t *testing.T, decoder PhotoDecoder) *fixture {
	t.Helper()
	f := &fixture{
		session:  capture.NewSession(),
		exchange: results.NewExchange(),
		scanner: &fakeScanner{scanFn: func(context.Context, *backend.ScanRequest) (model.AnalysisResult, error) {
			return model.AnalysisResult(`{"food_name":"Soup"}`), nil
		}},
		nav: &recordingNavigator{},
	}
	f.coord = NewCoordinator(Config{
		Photos:         f.session,
		Decoder:        decoder,
		Scanner:        f.scanner,
		Exchange:       f.exchange,
		Navigator:      f.nav,
		Logger:         slog.New(slog.NewJSONHandler(io.Discard, nil)),
		DefaultZipcode: "60201",
	})
	return f
}

func okDecoder() *fakeDecoder {
	return &fakeDecoder{decodeFn: func(p model.CapturedPhoto) (backend.FilePart, error) {
		return backend.FilePart{Filename: p.URI, Data: []byte(p.URI)}, nil
	}}
}

func TestCoordinator_EmptySubmission(t *testing.T) {
	f := newFixture(t, okDecoder())

	_, err := f.coord.Submit(context.Background(), SubmitOptions{Zipcode: "60201"})
	if !errors.Is(err, model.ErrEmptySubmission) {
		t.Fatalf("err = %v, want ErrEmptySubmission", err)
	}
	if n := f.scanner.calls.Load(); n != 0 {
		t.Errorf("scan calls = %d, want 0", n)
	}
	if len(f.nav.routes) != 0 {
		t.Errorf("routes = %v, want none", f.nav.routes)
	}
}

func TestCoordinator_DecodeFailureIdentifiesIndex(t *testing.T) {
	decoder := &fakeDecoder{decodeFn: func(p model.CapturedPhoto) (backend.FilePart, error) {
		if p.URI == "bad" {
			return backend.FilePart{}, errors.New("corrupt jpeg")
		}
		return backend.FilePart{Data: []byte("ok")}, nil
	}}
	f := newFixture(t, decoder)
	f.session.Append(model.CapturedPhoto{URI: "good-1"})
	f.session.Append(model.CapturedPhoto{URI: "bad"})
	f.session.Append(model.CapturedPhoto{URI: "good-2"})

	_, err := f.coord.Submit(context.Background(), SubmitOptions{})

	var decodeErr *model.PhotoDecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("err = %v, want *PhotoDecodeError", err)
	}
	if decodeErr.Index != 1 {
		t.Errorf("Index = %d, want 1", decodeErr.Index)
	}
	if n := f.scanner.calls.Load(); n != 0 {
		t.Errorf("scan calls = %d, want 0", n)
	}
}

func TestCoordinator_DecodeFailureReportsLowestIndex(t *testing.T) {
	decoder := &fakeDecoder{decodeFn: func(p model.CapturedPhoto) (backend.FilePart, error) {
		if p.URI == "good" {
			return backend.FilePart{Data: []byte("ok")}, nil
		}
		return backend.FilePart{}, errors.New("broken")
	}}
	f := newFixture(t, decoder)
	for _, uri := range []string{"good", "bad", "good", "bad"} {
		f.session.Append(model.CapturedPhoto{URI: uri})
	}

	_, err := f.coord.Submit(context.Background(), SubmitOptions{})
	var decodeErr *model.PhotoDecodeError
	if !errors.As(err, &decodeErr) || decodeErr.Index != 1 {
		t.Fatalf("err = %v, want PhotoDecodeError at index 1", err)
	}
}

// ctxDecoder はcontextを受け取るPhotoDecoderのテスト用実装。
type ctxDecoder struct {
	decodeFn func(ctx context.Context, photo model.CapturedPhoto) (backend.FilePart, error)
}

func (d *ctxDecoder) Decode(ctx context.Context, photo model.CapturedPhoto) (backend.FilePart, error) {
	return d.decodeFn(ctx, photo)
}

func TestCoordinator_DecodeFailureCancelsLaterPhotos(t *testing.T) {
	var finishedLate, earlierCanceled atomic.Int32
	decoder := &ctxDecoder{decodeFn: func(ctx context.Context, p model.CapturedPhoto) (backend.FilePart, error) {
		switch p.URI {
		case "bad":
			return backend.FilePart{}, errors.New("corrupt jpeg")
		case "slow":
			select {
			case <-ctx.Done():
				earlierCanceled.Add(1)
				return backend.FilePart{}, ctx.Err()
			case <-time.After(50 * time.Millisecond):
				return backend.FilePart{Data: []byte("ok")}, nil
			}
		default:
			select {
			case <-ctx.Done():
				return backend.FilePart{}, ctx.Err()
			case <-time.After(5 * time.Second):
				finishedLate.Add(1)
				return backend.FilePart{Data: []byte("ok")}, nil
			}
		}
	}}
	f := newFixture(t, decoder)
	for _, uri := range []string{"slow", "bad", "wait", "wait", "wait", "wait"} {
		f.session.Append(model.CapturedPhoto{URI: uri})
	}

	_, err := f.coord.Submit(context.Background(), SubmitOptions{})

	var decodeErr *model.PhotoDecodeError
	if !errors.As(err, &decodeErr) || decodeErr.Index != 1 {
		t.Fatalf("err = %v, want PhotoDecodeError at index 1", err)
	}
	if n := finishedLate.Load(); n != 0 {
		t.Errorf("後続の写真が取り消されずに%d件デコードされた", n)
	}
	if n := earlierCanceled.Load(); n != 0 {
		t.Errorf("失敗より前の写真が%d件取り消された", n)
	}
	if n := f.scanner.calls.Load(); n != 0 {
		t.Errorf("scan calls = %d, want 0", n)
	}
}

func TestCoordinator_RemoveDuringSubmitKeepsSubmittedPhotos(t *testing.T) {
	f := newFixture(t, okDecoder())
	f.session.Append(model.CapturedPhoto{URI: "a"})
	f.session.Append(model.CapturedPhoto{URI: "b"})
	f.scanner.scanFn = func(context.Context, *backend.ScanRequest) (model.AnalysisResult, error) {
		if err := f.session.RemoveAt(0); err != nil {
			t.Errorf("RemoveAt(0) error = %v", err)
		}
		return model.AnalysisResult(`{"food_name":"Soup"}`), nil
	}

	entry, err := f.coord.Submit(context.Background(), SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	want := []model.CapturedPhoto{{URI: "a"}, {URI: "b"}}
	if diff := cmp.Diff(want, entry.Photos); diff != "" {
		t.Errorf("entry.Photos mismatch (-want +got):\n%s", diff)
	}
	if got, ok := f.exchange.Get(); !ok || got.SubmissionID != entry.SubmissionID {
		t.Errorf("結果スロットに送信結果が書き込まれていない: %+v", got)
	}
}

func TestCoordinator_MissingZipcode(t *testing.T) {
	f := newFixture(t, okDecoder())
	f.coord.defaultZipcode = ""
	f.session.Append(model.CapturedPhoto{URI: "a"})

	if _, err := f.coord.Submit(context.Background(), SubmitOptions{}); !errors.Is(err, model.ErrMissingZipcode) {
		t.Fatalf("err = %v, want ErrMissingZipcode", err)
	}
	if n := f.scanner.calls.Load(); n != 0 {
		t.Errorf("scan calls = %d, want 0", n)
	}
}

func TestCoordinator_FailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, okDecoder())
	previous := &results.Entry{SubmissionID: "prev", Result: model.AnalysisResult(`{"food_name":"Old"}`)}
	f.exchange.Set(previous)
	f.session.Append(model.CapturedPhoto{URI: "a"})
	f.scanner.scanFn = func(context.Context, *backend.ScanRequest) (model.AnalysisResult, error) {
		return nil, &backend.HTTPStatusError{Path: backend.PathScanFood, StatusCode: 500}
	}

	_, err := f.coord.Submit(context.Background(), SubmitOptions{})
	var submitErr *model.SubmissionFailedError
	if !errors.As(err, &submitErr) {
		t.Fatalf("err = %v, want *SubmissionFailedError", err)
	}

	got, ok := f.exchange.Get()
	if !ok || got.SubmissionID != "prev" {
		t.Errorf("結果スロットが変更された: %+v", got)
	}
	if f.session.Len() != 1 {
		t.Errorf("写真一覧が変更された: Len = %d", f.session.Len())
	}
	if len(f.nav.routes) != 0 {
		t.Errorf("失敗時に遷移した: %v", f.nav.routes)
	}

	// 同じ操作で再試行できること
	f.scanner.scanFn = func(context.Context, *backend.ScanRequest) (model.AnalysisResult, error) {
		return model.AnalysisResult(`{"food_name":"Retry"}`), nil
	}
	if _, err := f.coord.Submit(context.Background(), SubmitOptions{}); err != nil {
		t.Fatalf("再試行 error = %v", err)
	}
}

func TestCoordinator_RejectsConcurrentSubmission(t *testing.T) {
	f := newFixture(t, okDecoder())
	f.session.Append(model.CapturedPhoto{URI: "a"})

	entered := make(chan struct{})
	release := make(chan struct{})
	f.scanner.scanFn = func(context.Context, *backend.ScanRequest) (model.AnalysisResult, error) {
		close(entered)
		<-release
		return model.AnalysisResult(`{}`), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Submit(context.Background(), SubmitOptions{})
		done <- err
	}()

	<-entered
	if _, err := f.coord.Submit(context.Background(), SubmitOptions{}); !errors.Is(err, model.ErrSubmissionInProgress) {
		t.Errorf("2回目のSubmit err = %v, want ErrSubmissionInProgress", err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Errorf("1回目のSubmit error = %v", err)
	}
	if n := f.scanner.calls.Load(); n != 1 {
		t.Errorf("scan calls = %d, want 1", n)
	}
}

func TestCoordinator_LastWriteWins(t *testing.T) {
	f := newFixture(t, okDecoder())
	f.session.Append(model.CapturedPhoto{URI: "a"})

	for _, name := range []string{"R1", "R2"} {
		f.scanner.scanFn = func(context.Context, *backend.ScanRequest) (model.AnalysisResult, error) {
			return model.AnalysisResult(`{"food_name":"` + name + `"}`), nil
		}
		if _, err := f.coord.Submit(context.Background(), SubmitOptions{}); err != nil {
			t.Fatalf("Submit(%s) error = %v", name, err)
		}
	}

	got, _ := f.exchange.Get()
	if string(got.Result) != `{"food_name":"R2"}` {
		t.Errorf("result = %s, want R2 only", got.Result)
	}
}

func TestCoordinator_DiscardsResultAfterInvalidate(t *testing.T) {
	f := newFixture(t, okDecoder())
	f.session.Append(model.CapturedPhoto{URI: "a"})
	f.scanner.scanFn = func(context.Context, *backend.ScanRequest) (model.AnalysisResult, error) {
		// 解析中にログアウトされた
		f.exchange.Invalidate()
		return model.AnalysisResult(`{"food_name":"Late"}`), nil
	}

	if _, err := f.coord.Submit(context.Background(), SubmitOptions{}); !errors.Is(err, model.ErrSubmissionStale) {
		t.Fatalf("err = %v, want ErrSubmissionStale", err)
	}
	if _, ok := f.exchange.Get(); ok {
		t.Error("古い解析結果が書き込まれた")
	}
	if len(f.nav.routes) != 0 {
		t.Errorf("routes = %v, want none", f.nav.routes)
	}
}

func TestCoordinator_PassesOptionalFields(t *testing.T) {
	f := newFixture(t, okDecoder())
	f.session.Append(model.CapturedPhoto{URI: "a"})
	f.session.Append(model.CapturedPhoto{URI: "b"})

	var got *backend.ScanRequest
	f.scanner.scanFn = func(_ context.Context, req *backend.ScanRequest) (model.AnalysisResult, error) {
		got = req
		return model.AnalysisResult(`{}`), nil
	}

	opts := SubmitOptions{Zipcode: "94103", MenuText: "menu", UserText: "no nuts"}
	if _, err := f.coord.Submit(context.Background(), opts); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	want := &backend.ScanRequest{
		Files:    []backend.FilePart{{Filename: "a", Data: []byte("a")}, {Filename: "b", Data: []byte("b")}},
		Zipcode:  "94103",
		MenuText: "menu",
		UserText: "no nuts",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ScanRequest mismatch (-want +got):\n%s", diff)
	}
}

// TestCoordinator_EndToEnd は実際のバックエンドクライアントとデコーダーで
// 2枚の写真を送信し、結果画面で料理名を取り出せることを確認する。
func TestCoordinator_EndToEnd(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
		}
		if n := len(r.MultipartForm.File["file"]); n != 2 {
			t.Errorf("file parts = %d, want 2", n)
		}
		if z := r.FormValue("zipcode"); z != "60201" {
			t.Errorf("zipcode = %q", z)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"food_name":"Spaghetti Carbonara","description":"A creamy pasta dish."}`))
	}))
	defer srv.Close()

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	client := backend.NewClient(backend.NewResolver([]string{deadURL, srv.URL}, nil, logger))

	session := capture.NewSession()
	session.Append(model.CapturedPhoto{URI: pngDataURI()})
	session.Append(model.CapturedPhoto{URI: pngDataURI()})

	exchange := results.NewExchange()
	nav := &recordingNavigator{}
	coord := NewCoordinator(Config{
		Photos:    session,
		Scanner:   client,
		Exchange:  exchange,
		Navigator: nav,
		Logger:    logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entry, err := coord.Submit(ctx, SubmitOptions{Zipcode: "60201"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if requests.Load() != 1 {
		t.Errorf("requests = %d, want 1", requests.Load())
	}

	stored, ok := exchange.Get()
	if !ok || stored.SubmissionID != entry.SubmissionID {
		t.Fatalf("stored = %+v", stored)
	}
	if len(stored.Photos) != 2 {
		t.Errorf("photos = %d, want 2", len(stored.Photos))
	}

	// 写真一覧をClearしても結果側のコピーは残ること
	session.Clear()
	if again, _ := exchange.Get(); len(again.Photos) != 2 {
		t.Error("結果側の写真コピーが失われた")
	}

	dish, err := recipe.ExtractDish(stored.Result)
	if err != nil {
		t.Fatalf("ExtractDish() error = %v", err)
	}
	if dish.FoodName != "Spaghetti Carbonara" {
		t.Errorf("FoodName = %q, want %q", dish.FoodName, "Spaghetti Carbonara")
	}
	if len(nav.routes) != 1 || nav.routes[0] != navigation.RouteResults {
		t.Errorf("routes = %v, want [%s]", nav.routes, navigation.RouteResults)
	}
}
