package loader

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/brayns/brayns_server/internal/model"
)

// XYZLoader reads whitespace separated point clouds, one "x y z" triple per line.
// Extra columns are ignored.
type XYZLoader struct{}

func NewXYZLoader() *XYZLoader {
	return &XYZLoader{}
}

func (l *XYZLoader) Name() string {
	return "xyz"
}

func (l *XYZLoader) Extensions() []string {
	return []string{"xyz"}
}

func (l *XYZLoader) ImportFromBlob(ctx context.Context, blob Blob, progress ProgressFunc, _ map[string]interface{}) ([]*model.Model, error) {
	m := &model.Model{Name: blob.Name}

	scanner := bufio.NewScanner(bytes.NewReader(blob.Data))
	total := len(blob.Data)
	consumed := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		consumed += len(scanner.Bytes()) + 1
		if err := checkCancelled(ctx, lineNo); err != nil {
			return nil, err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := parseOBJVector(strings.Fields(line))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		m.Vertices = append(m.Vertices, p)

		if lineNo%4096 == 0 && progress != nil && total > 0 {
			progress("Parsing XYZ", float64(consumed)/float64(total))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	if len(m.Vertices) == 0 {
		return nil, fmt.Errorf("%w: no points", ErrMalformedData)
	}

	m.Metadata = map[string]string{"points": strconv.Itoa(len(m.Vertices))}
	if progress != nil {
		progress("Parsing XYZ", 1)
	}
	return []*model.Model{m}, nil
}
