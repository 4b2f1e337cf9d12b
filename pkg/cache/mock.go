package cache

import "context"

type MockCache struct {
	SetMock   func(ctx context.Context, entry *Entry) error
	GetMock   func(ctx context.Context, key string) (entry *Entry, err error)
	CloseMock func() error
}

func (m *MockCache) Set(ctx context.Context, entry *Entry) error {
	if m.SetMock != nil {
		return m.SetMock(ctx, entry)
	}
	panic("SetMock not implemented")
}

func (m *MockCache) Get(ctx context.Context, key string) (*Entry, error) {
	if m.GetMock != nil {
		return m.GetMock(ctx, key)
	}
	panic("GetMock not implemented")
}

func (m *MockCache) Close() error {
	if m.CloseMock != nil {
		return m.CloseMock()
	}
	panic("CloseMock not implemented")
}
