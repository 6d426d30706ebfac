package storage

import (
	"bufio"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

// MetaImageCodec карта классов в формате MetaImage: заголовок .mhd и данные .raw рядом
type MetaImageCodec struct{}

// NewMetaImageCodec создаёт кодек
func NewMetaImageCodec() *MetaImageCodec {
	return &MetaImageCodec{}
}

// Write пишет заголовок и сырые байты меток, Spacing сохраняется в ElementSpacing
func (c *MetaImageCodec) Write(path string, a *entity.Artifact) error {
	if a.Labels == nil {
		return fmt.Errorf("artifact has no label map")
	}
	labels := toGray(a.Labels)
	w, h := labels.Rect.Dx(), labels.Rect.Dy()
	raw := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".raw"
	spacing := a.Spacing
	if spacing == [2]float64{} {
		spacing = [2]float64{1, 1}
	}

	header := fmt.Sprintf("ObjectType = Image\nNDims = 2\nDimSize = %d %d\nElementSpacing = %s %s\nElementType = MET_UCHAR\nElementDataFile = %s\n",
		w, h, formatSpacing(spacing[0]), formatSpacing(spacing[1]), raw)
	if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	data := make([]byte, 0, w*h)
	for y := 0; y < h; y++ {
		data = append(data, labels.Pix[y*labels.Stride:y*labels.Stride+w]...)
	}
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), raw), data, 0o644); err != nil {
		return fmt.Errorf("failed to write raw data: %w", err)
	}
	return nil
}

// Read разбирает заголовок и читает данные
func (c *MetaImageCodec) Read(path string) (*entity.Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	fields := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	if t := fields["ElementType"]; t != "MET_UCHAR" {
		return nil, fmt.Errorf("unsupported element type %q", t)
	}
	dims := strings.Fields(fields["DimSize"])
	if len(dims) != 2 {
		return nil, fmt.Errorf("expected 2 dimensions, got %q", fields["DimSize"])
	}
	w, errW := strconv.Atoi(dims[0])
	h, errH := strconv.Atoi(dims[1])
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid DimSize %q", fields["DimSize"])
	}

	spacing := [2]float64{1, 1}
	if parts := strings.Fields(fields["ElementSpacing"]); len(parts) == 2 {
		for i, p := range parts {
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid ElementSpacing: %w", err)
			}
			spacing[i] = v
		}
	}

	rawFile := fields["ElementDataFile"]
	if rawFile == "" {
		return nil, fmt.Errorf("header has no ElementDataFile")
	}
	data, err := os.ReadFile(filepath.Join(filepath.Dir(path), rawFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read raw data: %w", err)
	}
	if len(data) != w*h {
		return nil, fmt.Errorf("raw data has %d bytes, expected %d", len(data), w*h)
	}

	labels := image.NewGray(image.Rect(0, 0, w, h))
	copy(labels.Pix, data)
	return &entity.Artifact{Kind: entity.ArtifactImage, Labels: labels, Spacing: spacing}, nil
}

func formatSpacing(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

var _ port.ArtifactCodec = (*MetaImageCodec)(nil)
