package export

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Service renders snapshot reports and optionally archives them.
type Service struct {
	objects *ObjectStore
}

// NewService creates an export service. objects may be nil when no object
// store is configured; exports are then returned inline only.
func NewService(objects *ObjectStore) *Service {
	return &Service{objects: objects}
}

// SnapshotPDF renders a snapshot report to PDF. When an object store is
// configured the report is also archived; upload failures are logged, not
// fatal, since the caller already has the bytes.
func (s *Service) SnapshotPDF(ctx context.Context, data ReportData) (*Result, error) {
	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("%w: render report: %v", ErrContentUnavailable, err)
	}

	title := fmt.Sprintf("%s thesis %s", data.Ticker, data.AsOf.Format("2006-01-02"))
	result, err := exportPDF(html, title)
	if err != nil {
		return nil, err
	}

	if s.objects != nil {
		key := fmt.Sprintf("%s/%s-%d.pdf", data.Ticker, data.AsOf.Format("2006-01-02"), time.Now().Unix())
		url, err := s.objects.Put(ctx, key, result.Data, result.MimeType)
		if err != nil {
			log.Printf("export: archive report: %v", err)
		} else {
			result.ObjectURL = url
		}
	}

	return result, nil
}
