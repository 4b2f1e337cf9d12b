package scanner

import (
	"context"

	"github.com/glimps-re/stegascan/pkg/datamodel"
	"github.com/glimps-re/stegascan/pkg/engine"
)

var _ engine.Scanner = &EngineMock{}

type EngineMock struct {
	ScanMock func(ctx context.Context, data []byte, filename string, opts engine.Options) (datamodel.Result, error)
}

func (m *EngineMock) Scan(ctx context.Context, data []byte, filename string, opts engine.Options) (datamodel.Result, error) {
	if m.ScanMock != nil {
		return m.ScanMock(ctx, data, filename, opts)
	}
	panic("Scan not implemented")
}
