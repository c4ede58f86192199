// SPDX-License-Identifier: MIT
package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithJobID(ctx, "job-1")
	ctx = ContextWithUserID(ctx, "user-1")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "job-1", JobIDFromContext(ctx))
	assert.Equal(t, "user-1", UserIDFromContext(ctx))
}

func TestContextEmpty(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
	assert.Empty(t, JobIDFromContext(context.Background()))
	assert.Empty(t, UserIDFromContext(context.Background()))
	//nolint:staticcheck // nil context is part of the contract under test
	assert.Empty(t, RequestIDFromContext(nil))
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := ContextWithJobID(context.Background(), "job-42")
	ctx = ContextWithUserID(ctx, "user-7")

	ctxLogger := WithContext(ctx, logger)
	ctxLogger.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "job-42", entry[FieldJobID])
	assert.Equal(t, "user-7", entry[FieldUserID])
	_, hasReq := entry[FieldRequestID]
	assert.False(t, hasReq, "request id was never set")
}

func TestWithContextNoFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctxLogger := WithContext(context.Background(), logger)
	ctxLogger.Info().Msg("plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, has := entry[FieldJobID]
	assert.False(t, has)
}
