package someip_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/someip-go/someip"
	"github.com/someip-go/someip/wire"
)

func TestHandlerMapsNilErrorToOK(t *testing.T) {
	h := someip.Handler(func(ctx context.Context, payload []byte) ([]byte, error) {
		return append([]byte("echo:"), payload...), nil
	})

	code, resp := h(context.Background(), 1, 1, []byte("hi"))
	assert.Equal(t, wire.ReturnCodeOK, code)
	assert.Equal(t, []byte("echo:hi"), resp)
}

func TestHandlerMapsMethodErrorToItsCode(t *testing.T) {
	h := someip.Handler(func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, &someip.MethodError{Code: wire.ReturnCodeNotReady, Err: errors.New("backend not warmed up")}
	})

	code, resp := h(context.Background(), 1, 1, nil)
	assert.Equal(t, wire.ReturnCodeNotReady, code)
	assert.Nil(t, resp)
}

func TestHandlerMapsWrappedMethodErrorToItsCode(t *testing.T) {
	h := someip.Handler(func(ctx context.Context, payload []byte) ([]byte, error) {
		base := &someip.MethodError{Code: wire.ReturnCodeUnknownMethod, Err: errors.New("no such method")}
		return nil, errors.Join(base, errors.New("context"))
	})

	code, _ := h(context.Background(), 1, 1, nil)
	assert.Equal(t, wire.ReturnCodeUnknownMethod, code)
}

func TestHandlerMapsGenericErrorToNotOK(t *testing.T) {
	h := someip.Handler(func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, errors.New("boom")
	})

	code, resp := h(context.Background(), 1, 1, nil)
	assert.Equal(t, wire.ReturnCodeNotOK, code)
	assert.Nil(t, resp)
}

func TestMethodErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	me := &someip.MethodError{Code: wire.ReturnCodeNotOK, Err: inner}
	require.ErrorIs(t, me, inner)
	assert.Equal(t, "inner", me.Error())
}
