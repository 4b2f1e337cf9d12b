package jobs

import (
	"context"

	"github.com/glimps-re/stegascan/pkg/datamodel"
	"github.com/glimps-re/stegascan/pkg/engine"
)

type ScannerMock struct {
	ScanMock func(ctx context.Context, data []byte, filename string, opts engine.Options) (datamodel.Result, error)
}

func (m *ScannerMock) Scan(ctx context.Context, data []byte, filename string, opts engine.Options) (datamodel.Result, error) {
	if m.ScanMock != nil {
		return m.ScanMock(ctx, data, filename, opts)
	}
	panic("Scan not implemented")
}
