package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/webshell/pkg/appinfo"
	"github.com/rexliu/webshell/pkg/bridge"
	"github.com/rexliu/webshell/pkg/clipboard"
	"github.com/rexliu/webshell/pkg/imaging"
	"github.com/rexliu/webshell/pkg/storage/sqlite"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) add(level, format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, v...))
}

func (l *recordingLogger) Printf(format string, v ...any) { l.add("PRINT", format, v...) }
func (l *recordingLogger) Infof(format string, v ...any)  { l.add("INFO", format, v...) }
func (l *recordingLogger) Warnf(format string, v ...any)  { l.add("WARN", format, v...) }
func (l *recordingLogger) Errorf(format string, v ...any) { l.add("ERROR", format, v...) }

type memJournal struct {
	entries []sqlite.LogEntry
}

func (j *memJournal) AppendLog(_ context.Context, e sqlite.LogEntry) (int64, error) {
	j.entries = append(j.entries, e)
	return int64(len(j.entries)), nil
}

type staticInfo appinfo.Info

func (s staticInfo) Resolve(context.Context) appinfo.Info { return appinfo.Info(s) }

type brokenExtractor struct{}

func (brokenExtractor) Prepare(context.Context) (imaging.Readiness, error) {
	return imaging.Readiness{Before: imaging.StateNotReady, After: imaging.StateNotReady}, errors.New("model missing")
}

func (brokenExtractor) Extract(context.Context, image.Image, imaging.Hint) (*image.Gray, error) {
	panic("not reached")
}

type fixture struct {
	router  *bridge.Router
	clip    *clipboard.Memory
	logger  *recordingLogger
	journal *memJournal
}

func newFixture(t *testing.T, ex imaging.Extractor) *fixture {
	t.Helper()
	return newLimitedFixture(t, ex, imaging.Limits{})
}

func newLimitedFixture(t *testing.T, ex imaging.Extractor, lim imaging.Limits) *fixture {
	t.Helper()
	f := &fixture{clip: &clipboard.Memory{}, logger: &recordingLogger{}, journal: &memJournal{}}
	if ex == nil {
		ex = imaging.NewAdapter(imaging.ThresholdBackend{}, f.logger)
	}
	reg, err := bridge.NewRegistry(f.logger, All(Deps{
		Info:        staticInfo{Name: "webshell", Version: "1.2.3", Packaged: true},
		Clipboard:   f.clip,
		Extractor:   ex,
		ImageLimits: lim,
		Logger:      f.logger,
		Journal:     f.journal,
	})...)
	require.NoError(t, err)
	f.router = bridge.NewRouter(reg)
	return f
}

func (f *fixture) call(t *testing.T, method, params string) bridge.Response {
	t.Helper()
	raw := `{"v":1,"id":"t1","method":"` + method + `"`
	if params != "" {
		raw += `,"params":` + params
	}
	raw += "}"
	resp, err := bridge.DecodeResponse(f.router.Handle(context.Background(), []byte(raw)))
	require.NoError(t, err)
	require.Equal(t, "t1", resp.ID)
	return resp
}

func TestAllRegistersStableMethods(t *testing.T) {
	f := newFixture(t, nil)
	assert.ElementsMatch(t, []string{
		bridge.MethodAppGetInfo,
		bridge.MethodClipboardGetText,
		bridge.MethodClipboardSetText,
		bridge.MethodAIEcho,
		bridge.MethodAIRemoveBackground,
		bridge.MethodAppLog,
	}, f.router.Registry().Methods())
}

func TestAppInfo(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.call(t, "app.getInfo", "")
	require.True(t, resp.OK)
	assert.JSONEq(t, `{"name":"webshell","version":"1.2.3","packaged":true}`, string(resp.Result))
}

func TestClipboardRoundTrip(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.call(t, "clipboard.getText", "")
	require.True(t, resp.OK)
	assert.JSONEq(t, `{"text":""}`, string(resp.Result))

	resp = f.call(t, "clipboard.setText", `{"text":"hello"}`)
	require.True(t, resp.OK)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))

	resp = f.call(t, "CLIPBOARD.GETTEXT", "")
	require.True(t, resp.OK)
	assert.JSONEq(t, `{"text":"hello"}`, string(resp.Result))

	resp = f.call(t, "clipboard.setText", "")
	require.True(t, resp.OK)
	text, err := f.clip.ReadText(context.Background())
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestClipboardSetRejectsNonStringText(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.call(t, "clipboard.setText", `{"text":42}`)
	require.False(t, resp.OK)
	assert.Equal(t, bridge.CodeException, resp.Error.Code)
	assert.Contains(t, string(resp.Error.Details), "violations")
}

func TestEcho(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.call(t, "ai.echo", `{"text":"hi"}`)
	require.True(t, resp.OK)
	assert.JSONEq(t, `{"text":"echo: hi"}`, string(resp.Result))

	resp = f.call(t, "ai.echo", "")
	require.True(t, resp.OK)
	assert.JSONEq(t, `{"text":"echo: "}`, string(resp.Result))
}

func square() string {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			c := color.RGBA{R: 255, G: 255, B: 255, A: 255}
			if x >= 2 && x < 6 && y >= 2 && y < 6 {
				c = color.RGBA{G: 128, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	url, err := imaging.EncodePNGDataURL(img)
	if err != nil {
		panic(err)
	}
	return url
}

func TestRemoveBackground(t *testing.T) {
	f := newFixture(t, nil)
	params, _ := json.Marshal(map[string]any{
		"imageBase64":   square(),
		"includePoints": []any{map[string]any{"x": 3, "y": 3}, "bogus", map[string]any{"x": 1.5, "y": 2}},
	})
	resp := f.call(t, "ai.removeBackground", string(params))
	require.True(t, resp.OK, "%v", resp.Error)

	var out struct {
		MaskBase64 string `json:"maskBase64"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	require.True(t, strings.HasPrefix(out.MaskBase64, "data:image/png;base64,"))

	mask, err := imaging.DecodeBase64(out.MaskBase64, imaging.Limits{})
	require.NoError(t, err)
	r, _, _, _ := mask.At(3, 3).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	r, _, _, _ = mask.At(0, 0).RGBA()
	assert.Equal(t, uint32(0), r)
}

func TestRemoveBackgroundAcceptsRawImageField(t *testing.T) {
	f := newFixture(t, nil)
	raw := strings.TrimPrefix(square(), "data:image/png;base64,")
	resp := f.call(t, "ai.removeBackground", `{"image":"`+raw+`"}`)
	require.True(t, resp.OK, "%v", resp.Error)
}

func TestRemoveBackgroundRequiresImage(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.call(t, "ai.removeBackground", `{}`)
	require.False(t, resp.OK)
	assert.Equal(t, bridge.CodeException, resp.Error.Code)
	assert.Equal(t, "imageBase64 is required", resp.Error.Message)
}

func TestRemoveBackgroundRejectsOversizedImage(t *testing.T) {
	big, err := imaging.EncodePNGDataURL(image.NewGray(image.Rect(0, 0, 64, 64)))
	require.NoError(t, err)

	f := newLimitedFixture(t, nil, imaging.Limits{MaxPixels: 32 * 32})
	resp := f.call(t, "ai.removeBackground", `{"imageBase64":"`+big+`"}`)
	require.False(t, resp.OK)
	assert.Equal(t, bridge.CodeException, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "64x64")

	f = newLimitedFixture(t, nil, imaging.Limits{MaxBytes: 16})
	resp = f.call(t, "ai.removeBackground", `{"imageBase64":"`+big+`"}`)
	require.False(t, resp.OK)
	assert.Equal(t, bridge.CodeException, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "exceeds 16 bytes")

	// Dimensions over the default cap are refused without a configured limit.
	huge, err := imaging.EncodePNGDataURL(image.NewGray(image.Rect(0, 0, 6000, 5000)))
	require.NoError(t, err)
	f = newFixture(t, nil)
	resp = f.call(t, "ai.removeBackground", `{"imageBase64":"`+huge+`"}`)
	require.False(t, resp.OK)
	assert.Equal(t, bridge.CodeException, resp.Error.Code)
}

func TestRemoveBackgroundUnavailableExtractor(t *testing.T) {
	f := newFixture(t, brokenExtractor{})
	resp := f.call(t, "ai.removeBackground", `{"imageBase64":"`+square()+`"}`)
	require.True(t, resp.OK)
	assert.JSONEq(t, `{"maskBase64":null}`, string(resp.Result))
	assert.NotEmpty(t, f.logger.lines)
}

func TestLog(t *testing.T) {
	f := newFixture(t, nil)
	cases := []struct {
		level string
		want  string
	}{
		{"warning", "warn"},
		{"WARN", "warn"},
		{"error", "error"},
		{"debug", "info"},
		{"", "info"},
	}
	for _, tc := range cases {
		resp := f.call(t, "app.log", `{"level":"`+tc.level+`","message":"m","meta":{"k":1}}`)
		require.True(t, resp.OK)
		assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
	}
	require.Len(t, f.journal.entries, len(cases))
	for i, tc := range cases {
		assert.Equal(t, tc.want, f.journal.entries[i].Level)
		assert.JSONEq(t, `{"k":1}`, f.journal.entries[i].Meta)
	}
	assert.Contains(t, f.logger.lines, `WARN WEB m meta={"k":1}`)
	assert.Contains(t, f.logger.lines, `ERROR WEB m meta={"k":1}`)
}
