package target

import (
	"context"
	"errors"
	"testing"

	"github.com/momentohq/client-sdk-go/momento"
	"github.com/momentohq/client-sdk-go/responses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestMomentoResult(t *testing.T) {
	code, msg, err := momentoResult(OpSet, "k", nil)
	require.NoError(t, err)
	assert.Equal(t, codes.OK, code)
	assert.Equal(t, "OK", msg)

	_, _, err = momentoResult(OpGet, "k", context.DeadlineExceeded)
	var re *RPCError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, OpGet, re.Op)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	tests := []struct {
		code     string
		want     codes.Code
		rpcError bool
	}{
		{momento.TimeoutError, codes.Unknown, true},
		{momento.ServerUnavailableError, codes.Unknown, true},
		{momento.CanceledError, codes.Unknown, true},
		{momento.NotFoundError, codes.NotFound, false},
		{momento.LimitExceededError, codes.ResourceExhausted, false},
		{momento.InvalidArgumentError, codes.Unknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			merr := momento.NewMomentoError(tt.code, "from server", nil)
			code, msg, err := momentoResult(OpDelete, "k", merr)
			if tt.rpcError {
				var re *RPCError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, OpDelete, re.Op)
				assert.Equal(t, "k", re.Key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, code)
			assert.Equal(t, "from server", msg)
		})
	}
}

func TestMomentoGetResponse(t *testing.T) {
	hit := momentoGetResponse(responses.NewGetHit([]byte("aGVsbG8tMS0w")), codes.OK, "OK")
	assert.Equal(t, codes.OK, hit.Status)
	assert.True(t, hit.Found)
	assert.Equal(t, "aGVsbG8tMS0w", hit.Value)

	miss := momentoGetResponse(&responses.GetMiss{}, codes.OK, "OK")
	assert.Equal(t, codes.NotFound, miss.Status)
	assert.False(t, miss.Found)
	assert.Empty(t, miss.Value)
}
