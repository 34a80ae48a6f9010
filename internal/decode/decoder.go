// Package decode adapts the ZXing port to the scan.Decoder interface.
package decode

import (
	"fmt"
	"image"
	"math"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/multi"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/dj-oyu/codescan/internal/logger"
	"github.com/dj-oyu/codescan/internal/scan"
	"github.com/dj-oyu/codescan/pkg/types"
)

var log = logger.For("Decode")

// Config controls which symbologies are tried.
type Config struct {
	Kind      scan.SymbolKind // UnknownKind tries every reader
	TryHarder bool            // Spend more time per image
	Multi     bool            // Find several symbols per reader
}

// DefaultConfig returns a config that tries every supported format.
func DefaultConfig() Config {
	return Config{
		Kind:      scan.UnknownKind,
		TryHarder: true,
		Multi:     true,
	}
}

type namedReader struct {
	name   string
	reader gozxing.Reader
}

// Decoder decodes QR codes and linear barcodes with gozxing.
// A Decoder is not safe for concurrent use; create one per scan loop.
type Decoder struct {
	cfg     Config
	readers []namedReader
	hints   map[gozxing.DecodeHintType]interface{}
}

// New creates a decoder restricted to cfg.Kind.
func New(cfg Config) *Decoder {
	d := &Decoder{
		cfg:   cfg,
		hints: make(map[gozxing.DecodeHintType]interface{}),
	}
	if cfg.TryHarder {
		d.hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	if cfg.Kind == scan.UnknownKind || cfg.Kind == scan.QRCode {
		d.readers = append(d.readers, namedReader{"qrcode", qrcode.NewQRCodeReader()})
	}
	if cfg.Kind == scan.UnknownKind || cfg.Kind == scan.Barcode {
		d.readers = append(d.readers,
			namedReader{"ean13", oned.NewEAN13Reader()},
			namedReader{"ean8", oned.NewEAN8Reader()},
			namedReader{"upca", oned.NewUPCAReader()},
			namedReader{"upce", oned.NewUPCEReader()},
			namedReader{"code128", oned.NewCode128Reader()},
			namedReader{"code39", oned.NewCode39Reader()},
			namedReader{"code93", oned.NewCode93Reader()},
			namedReader{"itf", oned.NewITFReader()},
			namedReader{"codabar", oned.NewCodaBarReader()},
		)
	}
	return d
}

// Kind returns the symbol kind the decoder is restricted to.
func (d *Decoder) Kind() scan.SymbolKind {
	return d.cfg.Kind
}

// Decode returns every distinct symbol found in img, in reader order.
// Unreadable images yield no symbols and no error.
func (d *Decoder) Decode(img image.Image) ([]scan.Symbol, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, nil
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("decode: binarize: %w", err)
	}

	seen := make(map[string]bool)
	var out []scan.Symbol

	for _, nr := range d.readers {
		results := d.run(nr, bmp)
		for _, r := range results {
			sym := toSymbol(r)
			if d.cfg.Kind != scan.UnknownKind && sym.Kind != d.cfg.Kind {
				continue
			}
			key := sym.Format + "\x00" + sym.Payload
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, sym)
		}
		nr.reader.Reset()
	}
	return out, nil
}

func (d *Decoder) run(nr namedReader, bmp *gozxing.BinaryBitmap) []*gozxing.Result {
	if d.cfg.Multi {
		results, err := multi.NewGenericMultipleBarcodeReader(nr.reader).DecodeMultiple(bmp, d.hints)
		if err != nil {
			log.Debug("%s: %v", nr.name, err)
			return nil
		}
		return results
	}

	r, err := nr.reader.Decode(bmp, d.hints)
	if err != nil {
		log.Debug("%s: %v", nr.name, err)
		return nil
	}
	return []*gozxing.Result{r}
}

func toSymbol(r *gozxing.Result) scan.Symbol {
	format := r.GetBarcodeFormat()
	return scan.Symbol{
		Kind:    KindOf(format),
		Format:  format.String(),
		Payload: r.GetText(),
		Region:  boundsOf(r.GetResultPoints()),
	}
}

// KindOf maps a gozxing format to a symbol kind.
func KindOf(f gozxing.BarcodeFormat) scan.SymbolKind {
	switch f {
	case gozxing.BarcodeFormat_QR_CODE:
		return scan.QRCode
	case gozxing.BarcodeFormat_EAN_13, gozxing.BarcodeFormat_EAN_8,
		gozxing.BarcodeFormat_UPC_A, gozxing.BarcodeFormat_UPC_E,
		gozxing.BarcodeFormat_CODE_128, gozxing.BarcodeFormat_CODE_39,
		gozxing.BarcodeFormat_CODE_93, gozxing.BarcodeFormat_ITF,
		gozxing.BarcodeFormat_CODABAR:
		return scan.Barcode
	default:
		return scan.UnknownKind
	}
}

// boundsOf returns the box around the result points. Points are relative to the
// decoded image's origin. Linear barcodes report points on a single scan line, so
// their box is one pixel high.
func boundsOf(points []gozxing.ResultPoint) types.Region {
	if len(points) == 0 {
		return types.Region{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		if p == nil {
			continue
		}
		minX = math.Min(minX, p.GetX())
		minY = math.Min(minY, p.GetY())
		maxX = math.Max(maxX, p.GetX())
		maxY = math.Max(maxY, p.GetY())
	}
	if math.IsInf(minX, 1) {
		return types.Region{}
	}

	return types.Region{
		X: int(minX),
		Y: int(minY),
		W: int(math.Ceil(maxX-minX)) + 1,
		H: int(math.Ceil(maxY-minY)) + 1,
	}
}
