package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestNewResource(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "kirk-test")
	t.Setenv("ENV", "ci")

	res, err := newResource(context.Background())
	require.NoError(t, err)

	name, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "kirk-test", name.AsString())

	env, ok := res.Set().Value("deployment.environment")
	require.True(t, ok)
	assert.Equal(t, "ci", env.AsString())
}
