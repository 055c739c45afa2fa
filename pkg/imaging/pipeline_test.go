package imaging

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"exifquarter/ledger/pkg/quota"
	"exifquarter/ledger/pkg/quota/abuse"
	"exifquarter/ledger/pkg/quota/storage"
)

type stubTranscoder struct {
	err   error
	calls int
}

func (s *stubTranscoder) Transcode(ctx context.Context, src io.Reader, srcFormat, dstFormat string, dst io.Writer) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	_, err := io.Copy(dst, src)
	return err
}

type stubGeoTagWriter struct {
	err  error
	tags GeoTags
}

func (s *stubGeoTagWriter) WriteTags(ctx context.Context, src io.Reader, tags GeoTags, dst io.Writer) error {
	s.tags = tags
	if s.err != nil {
		return s.err
	}
	_, err := io.Copy(dst, src)
	return err
}

func newTestPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	ledger := quota.NewLedger(storage.NewMemoryAdapter(), quota.Config{})
	return NewPipeline(ledger, cfg)
}

func anonReq() Request { return Request{Identity: "client-1"} }

func TestPipeline_ConvertChargesOneCredit(t *testing.T) {
	transcoder := &stubTranscoder{}
	pipeline := newTestPipeline(t, Config{Transcoder: transcoder})

	var out bytes.Buffer
	balance, err := pipeline.Convert(context.Background(), anonReq(),
		strings.NewReader("image-bytes"), "heic", "jpeg", &out)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	if balance.Credits != quota.DefaultAnonymousBaseline-1 {
		t.Errorf("credits = %d, want %d", balance.Credits, quota.DefaultAnonymousBaseline-1)
	}
	if out.String() != "image-bytes" {
		t.Errorf("output = %q", out.String())
	}
	if transcoder.calls != 1 {
		t.Errorf("transcoder calls = %d, want 1", transcoder.calls)
	}
	if len(balance.Operations) != 1 || balance.Operations[0].Type != quota.OpConvert {
		t.Errorf("operations = %+v, want one convert entry", balance.Operations)
	}
}

func TestPipeline_ConvertFailureDoesNotRefund(t *testing.T) {
	transcoder := &stubTranscoder{err: errors.New("unsupported codec")}
	pipeline := newTestPipeline(t, Config{Transcoder: transcoder})
	ctx := context.Background()

	var out bytes.Buffer
	balance, err := pipeline.Convert(ctx, anonReq(), strings.NewReader("x"), "heic", "jpeg", &out)
	if err == nil {
		t.Fatal("Convert succeeded, want transcoder error")
	}
	if balance == nil || balance.Credits != quota.DefaultAnonymousBaseline-1 {
		t.Fatalf("balance = %+v, want credit spent despite failure", balance)
	}

	// The credit stays spent on the next read.
	after, err := pipeline.Balance(ctx, anonReq())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if after.Credits != quota.DefaultAnonymousBaseline-1 {
		t.Errorf("credits after failed conversion = %d, want %d", after.Credits, quota.DefaultAnonymousBaseline-1)
	}
}

func TestPipeline_InsufficientCreditsSkipsBackend(t *testing.T) {
	transcoder := &stubTranscoder{}
	ledger := quota.NewLedger(storage.NewMemoryAdapter(), quota.Config{AnonymousBaseline: 1})
	pipeline := NewPipeline(ledger, Config{Transcoder: transcoder})
	ctx := context.Background()

	var out bytes.Buffer
	if _, err := pipeline.Convert(ctx, anonReq(), strings.NewReader("x"), "png", "webp", &out); err != nil {
		t.Fatalf("first Convert: %v", err)
	}

	_, err := pipeline.Convert(ctx, anonReq(), strings.NewReader("x"), "png", "webp", &out)
	if !errors.Is(err, quota.ErrInsufficientCredits) {
		t.Fatalf("second Convert = %v, want ErrInsufficientCredits", err)
	}
	if transcoder.calls != 1 {
		t.Errorf("transcoder ran %d times, want 1; rejected requests must not reach the backend", transcoder.calls)
	}
}

func TestPipeline_Geotag(t *testing.T) {
	writer := &stubGeoTagWriter{}
	pipeline := newTestPipeline(t, Config{GeoTagWriter: writer})

	tags := GeoTags{Latitude: 48.8584, Longitude: 2.2945, Altitude: 300}
	var out bytes.Buffer
	balance, err := pipeline.Geotag(context.Background(), anonReq(),
		strings.NewReader("jpeg-bytes"), tags, &out)
	if err != nil {
		t.Fatalf("Geotag: %v", err)
	}

	if writer.tags != tags {
		t.Errorf("writer received %+v, want %+v", writer.tags, tags)
	}
	if balance.Credits != quota.DefaultAnonymousBaseline-1 {
		t.Errorf("credits = %d", balance.Credits)
	}
}

func TestPipeline_GeotagRejectsBadCoordinates(t *testing.T) {
	pipeline := newTestPipeline(t, Config{GeoTagWriter: &stubGeoTagWriter{}})
	ctx := context.Background()

	bad := []GeoTags{
		{Latitude: 91},
		{Latitude: -91},
		{Longitude: 181},
		{Longitude: -181},
	}
	for _, tags := range bad {
		if _, err := pipeline.Geotag(ctx, anonReq(), strings.NewReader("x"), tags, io.Discard); err == nil {
			t.Errorf("Geotag accepted out-of-range tags %+v", tags)
		}
	}

	// Validation failures happen before any deduction.
	balance, err := pipeline.Balance(ctx, anonReq())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance.Credits != quota.DefaultAnonymousBaseline {
		t.Errorf("credits = %d, want untouched baseline", balance.Credits)
	}
}

func TestPipeline_BulkDownloadCostsFive(t *testing.T) {
	pipeline := newTestPipeline(t, Config{})

	balance, err := pipeline.ChargeBulkDownload(context.Background(), anonReq())
	if err != nil {
		t.Fatalf("ChargeBulkDownload: %v", err)
	}
	if balance.Credits != quota.DefaultAnonymousBaseline-5 {
		t.Errorf("credits = %d, want %d", balance.Credits, quota.DefaultAnonymousBaseline-5)
	}
}

func TestPipeline_GuardBlocksBeforeLedger(t *testing.T) {
	guard := abuse.NewGuard(abuse.NewMemoryCounterStore(), abuse.Config{
		Ceiling: 1,
		Window:  time.Hour,
	})
	transcoder := &stubTranscoder{}
	pipeline := newTestPipeline(t, Config{Transcoder: transcoder, Guard: guard})
	ctx := context.Background()

	if _, err := pipeline.Convert(ctx, anonReq(), strings.NewReader("x"), "png", "webp", io.Discard); err != nil {
		t.Fatalf("first Convert: %v", err)
	}

	_, err := pipeline.Convert(ctx, anonReq(), strings.NewReader("x"), "png", "webp", io.Discard)
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("second Convert = %v, want ErrBlocked", err)
	}

	// Blocked requests spend no credits.
	balance, err := pipeline.Balance(ctx, anonReq())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance.Credits != quota.DefaultAnonymousBaseline-1 {
		t.Errorf("credits = %d, want %d", balance.Credits, quota.DefaultAnonymousBaseline-1)
	}
}

func TestCostTable_UnknownOperationDefaultsToOne(t *testing.T) {
	costs := DefaultCostTable()
	if got := costs.Cost(quota.OperationType("rotate")); got != 1 {
		t.Errorf("Cost(rotate) = %d, want 1", got)
	}
	if got := costs.Cost(quota.OpBulkDownload); got != 5 {
		t.Errorf("Cost(bulkDownload) = %d, want 5", got)
	}
}
