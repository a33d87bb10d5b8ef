package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"reflect"
	"sync/atomic"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	turnerrors "github.com/iamanmiglani/Image-to-text/v1/errors"
)

func sample() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for x := 0; x < 4; x++ {
		img.Set(x, 1, color.Black)
	}
	return img
}

func encode(t *testing.T, format string) []byte {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, sample())
	case "jpeg":
		err = jpeg.Encode(&buf, sample(), nil)
	case "gif":
		err = gif.Encode(&buf, sample(), nil)
	case "bmp":
		err = bmp.Encode(&buf, sample())
	case "tiff":
		err = tiff.Encode(&buf, sample(), nil)
	}
	if err != nil {
		t.Fatalf("encode %s: %v", format, err)
	}
	return buf.Bytes()
}

func TestNormalizeContainers(t *testing.T) {
	cases := map[string]string{
		"png":  "image/png",
		"jpeg": "image/jpeg",
		"gif":  "image/gif",
		"bmp":  "image/bmp",
		"tiff": "image/tiff",
	}
	for format, ct := range cases {
		t.Run(format, func(t *testing.T) {
			out, err := Normalizer{}.NormalizePNG(encode(t, format), ct)
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			img, got, err := image.Decode(bytes.NewReader(out))
			if err != nil || got != "png" {
				t.Fatalf("expected png output, got %q %v", got, err)
			}
			if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 3 {
				t.Fatalf("unexpected bounds %v", img.Bounds())
			}
		})
	}
}

func TestNormalizeSniffsMissingContentType(t *testing.T) {
	if _, err := (Normalizer{}).Normalize(encode(t, "png"), ""); err != nil {
		t.Fatalf("expected sniffed png to decode: %v", err)
	}
	if _, err := (Normalizer{}).Normalize(encode(t, "jpeg"), "application/octet-stream"); err != nil {
		t.Fatalf("expected sniffed jpeg to decode: %v", err)
	}
}

func TestNormalizeRejects(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		ct   string
	}{
		{"text", []byte("hello"), "text/plain"},
		{"mismatch", encode(t, "png"), "image/jpeg"},
		{"garbage", []byte("not an image"), "image/png"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalizer{}.Normalize(tc.data, tc.ct)
			if !errors.Is(err, ErrUnsupportedContainer) || !errors.Is(err, turnerrors.ErrValidation) {
				t.Fatalf("expected unsupported container, got %v", err)
			}
		})
	}
}

func TestNormalizePixelLimit(t *testing.T) {
	_, err := Normalizer{MaxPixels: 5}.Normalize(encode(t, "png"), "image/png")
	if !errors.Is(err, ErrUnsupportedContainer) {
		t.Fatalf("expected pixel limit rejection, got %v", err)
	}
}

func TestAccepted(t *testing.T) {
	for _, ct := range []string{"image/jpeg", "image/jpg", "image/png", "IMAGE/PNG", "image/webp"} {
		if !Accepted(ct) {
			t.Fatalf("expected %s accepted", ct)
		}
	}
	if Accepted("application/pdf") {
		t.Fatal("pdf must not be accepted")
	}
}

func TestSplitLines(t *testing.T) {
	got := SplitLines("  first line \n\n second\r\n   \nthird")
	want := []string{"first line", "second", "third"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if SplitLines("") != nil {
		t.Fatal("expected no lines for empty text")
	}
}

func TestSameLanguages(t *testing.T) {
	cases := []struct {
		cur, next []string
		want      bool
	}{
		{nil, []string{"eng"}, false},
		{[]string{"eng"}, []string{"eng"}, true},
		{[]string{"eng"}, []string{"eng", "deu"}, false},
		{[]string{"eng", "deu"}, []string{"deu", "eng"}, false},
	}
	for _, tc := range cases {
		if got := sameLanguages(tc.cur, tc.next); got != tc.want {
			t.Fatalf("sameLanguages(%v, %v) = %v, want %v", tc.cur, tc.next, got, tc.want)
		}
	}
}

func TestExtractKeepsUploadOrder(t *testing.T) {
	var calls atomic.Int32
	e := &Extractor{
		Recognizer: RecognizerFunc(func(ctx context.Context, png []byte, langs []string) ([]string, error) {
			n := calls.Add(1)
			if !reflect.DeepEqual(langs, DefaultLanguages) {
				t.Errorf("unexpected languages %v", langs)
			}
			return []string{string(rune('a' + n - 1))}, nil
		}),
	}
	inputs := []Input{
		{Name: "z.png", ContentType: "image/png", Data: encode(t, "png")},
		{Name: "a.jpg", ContentType: "image/jpeg", Data: encode(t, "jpeg")},
		{Name: "m.gif", ContentType: "image/gif", Data: encode(t, "gif")},
	}
	doc, err := e.Extract(context.Background(), inputs)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	pages := doc.Pages()
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
	for i, want := range []string{"z.png", "a.jpg", "m.gif"} {
		if pages[i].Name != want {
			t.Fatalf("page %d: expected %s, got %s", i, want, pages[i].Name)
		}
		if pages[i].Lines[0] != string(rune('a'+i)) {
			t.Fatalf("page %d recognized out of order: %v", i, pages[i].Lines)
		}
	}
}

func TestExtractFailsWholeBatch(t *testing.T) {
	e := &Extractor{
		Recognizer: RecognizerFunc(func(ctx context.Context, png []byte, langs []string) ([]string, error) {
			return nil, errors.New("engine crashed")
		}),
	}
	_, err := e.Extract(context.Background(), []Input{{Name: "a.png", ContentType: "image/png", Data: encode(t, "png")}})
	if !errors.Is(err, ErrEngine) || !errors.Is(err, turnerrors.ErrEngine) {
		t.Fatalf("expected engine error, got %v", err)
	}

	e.Recognizer = RecognizerFunc(func(ctx context.Context, png []byte, langs []string) ([]string, error) {
		t.Fatal("recognizer must not run when normalization fails")
		return nil, nil
	})
	_, err = e.Extract(context.Background(), []Input{{Name: "bad.png", ContentType: "image/png", Data: []byte("x")}})
	if !errors.Is(err, ErrUnsupportedContainer) {
		t.Fatalf("expected unsupported container, got %v", err)
	}
}

func TestExtractWithoutRecognizer(t *testing.T) {
	_, err := (&Extractor{}).Extract(context.Background(), nil)
	if !errors.Is(err, ErrEngine) {
		t.Fatalf("expected engine error, got %v", err)
	}
}
