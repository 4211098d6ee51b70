package processor

import (
	"bytes"
	"context"
	stderrors "errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/mrz-worker/internal/errors"
	"github.com/adverant/nexus/mrz-worker/internal/imagesource"
	"github.com/adverant/nexus/mrz-worker/internal/metrics"
	"github.com/adverant/nexus/mrz-worker/internal/mrz"
	"github.com/adverant/nexus/mrz-worker/internal/ocr"
	"github.com/adverant/nexus/mrz-worker/internal/storage"
)

const icaoPassport = "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<\n" +
	"L898902C36UTO7408122F1204159ZE184226B<<<<<10\n"

type fakeStore struct {
	records  []*storage.RecordInput
	updates  []*storage.JobUpdate
	storeErr error
}

func (f *fakeStore) StoreRecord(ctx context.Context, input *storage.RecordInput) (*storage.StoredRecord, error) {
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	f.records = append(f.records, input)
	out := &storage.StoredRecord{ID: "rec-1", JobID: input.JobID, Record: input.Record}
	if len(f.records) > 1 {
		out.DuplicateOf = []string{"rec-0"}
	}
	return out, nil
}

func (f *fakeStore) UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error {
	f.updates = append(f.updates, update)
	return nil
}

type scriptedEngine struct {
	name  string
	text  string
	calls int
}

func (e *scriptedEngine) Name() string { return e.name }

func (e *scriptedEngine) Supports(kind imagesource.Kind) bool {
	return kind == imagesource.KindRaster
}

func (e *scriptedEngine) Recognize(ctx context.Context, in ocr.Input) (*ocr.Result, error) {
	e.calls++
	if in.Progress != nil {
		in.Progress(100)
	}
	return &ocr.Result{Text: e.text, Engine: e.name, Confidence: 0.8, Duration: 20 * time.Millisecond}, nil
}

func newProcessor(t *testing.T, cfg *ProcessorConfig) *ScanProcessor {
	t.Helper()
	p, err := NewScanProcessor(cfg)
	require.NoError(t, err)
	p.retryBackoff = time.Millisecond
	return p
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 60, 20))
	for x := 0; x < 60; x++ {
		img.SetGray(x, 10, color.Gray{Y: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestProcessScan_TextUpload(t *testing.T) {
	store := &fakeStore{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	p := newProcessor(t, &ProcessorConfig{Store: store, Metrics: m})

	res, err := p.ProcessScan(context.Background(), &ScanRequest{
		JobID:      "job-1",
		MimeType:   "text/plain",
		FileBuffer: []byte(icaoPassport),
	})
	require.NoError(t, err)

	assert.Equal(t, "rec-1", res.RecordID)
	assert.Equal(t, "text", res.OCREngine)
	assert.Equal(t, mrz.FormatTD3, res.Record.Format)
	assert.Equal(t, mrz.StatusValid, res.Record.Status)
	assert.Equal(t, "ERIKSSON", res.Record.Surname)
	require.Len(t, store.records, 1)
	assert.Equal(t, "job-1", store.records[0].JobID)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Scans.WithLabelValues("TD3", "VALID")))
}

func TestProcessScan_DuplicateIsReported(t *testing.T) {
	store := &fakeStore{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	p := newProcessor(t, &ProcessorConfig{Store: store, Metrics: m})

	req := &ScanRequest{JobID: "job-1", MimeType: "text/plain", FileBuffer: []byte(icaoPassport)}
	_, err := p.ProcessScan(context.Background(), req)
	require.NoError(t, err)

	res, err := p.ProcessScan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-0"}, res.DuplicateOf)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Duplicates))
}

func TestProcessScan_NoMatchIsPermanent(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	p := newProcessor(t, &ProcessorConfig{Store: &fakeStore{}, Metrics: m})

	_, err := p.ProcessScan(context.Background(), &ScanRequest{
		JobID:      "job-2",
		MimeType:   "text/plain",
		FileBuffer: []byte("P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<\n"),
	})
	require.Error(t, err)

	assert.Equal(t, apperrors.ErrorNoMRZMatch, apperrors.CodeOf(err))
	assert.True(t, apperrors.IsPermanent(err))

	var nm *mrz.NoMatchError
	require.True(t, stderrors.As(err, &nm))
	assert.Equal(t, mrz.ReasonTooFewLines, nm.Reason)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NoMatch.WithLabelValues("too-few-candidate-lines")))
}

func TestProcessScan_RasterUsesEngine(t *testing.T) {
	noise := &scriptedEngine{name: "tesseract", text: "NOTHING HERE"}
	remote := &scriptedEngine{name: "mageagent", text: icaoPassport}
	p := newProcessor(t, &ProcessorConfig{
		MinImageWidth: 120,
		Engines:       []ocr.Engine{noise, remote},
	})

	var progress []int
	res, err := p.ProcessScan(context.Background(), &ScanRequest{
		JobID:      "job-3",
		FileBuffer: pngBytes(t),
		Progress:   func(pct int) { progress = append(progress, pct) },
	})
	require.NoError(t, err)

	assert.Equal(t, "mageagent", res.OCREngine)
	assert.Equal(t, 0.8, res.Confidence)
	assert.Equal(t, 1, noise.calls)
	assert.Equal(t, 1, remote.calls)
	assert.Empty(t, res.RecordID, "no store configured")
	assert.Equal(t, []int{100, 100}, progress)
}

func TestProcessScan_RasterWithoutEngine(t *testing.T) {
	p := newProcessor(t, &ProcessorConfig{})

	_, err := p.ProcessScan(context.Background(), &ScanRequest{JobID: "job-4", FileBuffer: pngBytes(t)})
	assert.Equal(t, apperrors.ErrorUnsupportedFormat, apperrors.CodeOf(err))
}

func TestProcessScan_StoreFailure(t *testing.T) {
	p := newProcessor(t, &ProcessorConfig{Store: &fakeStore{storeErr: stderrors.New("db down")}})

	_, err := p.ProcessScan(context.Background(), &ScanRequest{
		JobID: "job-5", MimeType: "text/plain", FileBuffer: []byte(icaoPassport),
	})
	assert.Equal(t, apperrors.ErrorStorageFailed, apperrors.CodeOf(err))
	assert.False(t, apperrors.IsPermanent(err))
}

func TestProcessScan_RejectsOversizedBuffer(t *testing.T) {
	p := newProcessor(t, &ProcessorConfig{MaxFileSize: 10})

	_, err := p.ProcessScan(context.Background(), &ScanRequest{JobID: "job-6", FileBuffer: []byte(icaoPassport)})
	assert.Equal(t, apperrors.ErrorInvalidInput, apperrors.CodeOf(err))
}

func TestProcessScan_RequiresSource(t *testing.T) {
	p := newProcessor(t, &ProcessorConfig{})

	_, err := p.ProcessScan(context.Background(), &ScanRequest{JobID: "job-7"})
	assert.Equal(t, apperrors.ErrorInvalidInput, apperrors.CodeOf(err))

	_, err = p.ProcessScan(context.Background(), &ScanRequest{})
	assert.Equal(t, apperrors.ErrorInvalidInput, apperrors.CodeOf(err))
}

func TestDownload_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(icaoPassport))
	}))
	defer srv.Close()

	p := newProcessor(t, &ProcessorConfig{MaxFileSize: 1 << 20})

	res, err := p.ProcessScan(context.Background(), &ScanRequest{JobID: "job-8", FileURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "L898902C3", res.Record.DocumentNumber)
	assert.Equal(t, int32(3), hits.Load())
}

func TestDownload_ClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := newProcessor(t, &ProcessorConfig{})

	_, err := p.ProcessScan(context.Background(), &ScanRequest{JobID: "job-9", FileURL: srv.URL})
	assert.Equal(t, apperrors.ErrorInvalidInput, apperrors.CodeOf(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestDownload_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := newProcessor(t, &ProcessorConfig{})

	_, err := p.ProcessScan(context.Background(), &ScanRequest{JobID: "job-10", FileURL: srv.URL})
	assert.Equal(t, apperrors.ErrorNetworkTimeout, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "502")
}

func TestDownload_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("A"), 4096))
	}))
	defer srv.Close()

	p := newProcessor(t, &ProcessorConfig{MaxFileSize: 1024})

	_, err := p.ProcessScan(context.Background(), &ScanRequest{JobID: "job-11", FileURL: srv.URL})
	assert.Equal(t, apperrors.ErrorInvalidInput, apperrors.CodeOf(err))
}

func TestBackoff(t *testing.T) {
	p := &ScanProcessor{retryBackoff: time.Second}
	assert.Equal(t, time.Second, p.backoff(1))
	assert.Equal(t, 4*time.Second, p.backoff(3))
	assert.Equal(t, 32*time.Second, p.backoff(10))
}

func TestParseText(t *testing.T) {
	p := newProcessor(t, &ProcessorConfig{})

	rec, err := p.ParseText(context.Background(), "p<utoeriksson<<anna<maria<<<<<<<<<<<<<<<<<<<\nl898902c36uto7408122f1204159ze184226b<<<<<10")
	require.NoError(t, err)
	assert.Equal(t, "ANNA MARIA", rec.GivenNames)

	_, err = p.ParseText(context.Background(), "hello")
	assert.Equal(t, apperrors.ErrorNoMRZMatch, apperrors.CodeOf(err))
}

func TestUpdateJobStatus(t *testing.T) {
	store := &fakeStore{}
	p := newProcessor(t, &ProcessorConfig{Store: store})

	err := p.UpdateJobStatus(context.Background(), "job-12", storage.JobStatusFailed, map[string]interface{}{
		"errorCode":  "NO_MRZ_MATCH",
		"error":      "no MRZ",
		"confidence": 0.5,
		"recordId":   "rec-9",
		"ocrEngine":  "tesseract",
	})
	require.NoError(t, err)
	require.Len(t, store.updates, 1)

	u := store.updates[0]
	assert.Equal(t, "job-12", u.JobID)
	assert.Equal(t, "failed", u.Status)
	assert.Equal(t, "NO_MRZ_MATCH", u.ErrorCode)
	assert.Equal(t, "no MRZ", u.ErrorMessage)
	assert.Equal(t, 0.5, u.Confidence)
	assert.Equal(t, "rec-9", u.RecordID)
	assert.Equal(t, "tesseract", u.OCREngine)

	assert.NoError(t, newProcessor(t, &ProcessorConfig{}).UpdateJobStatus(context.Background(), "x", "queued", nil))
}
