package bootstrap

import (
	"testing"

	"github.com/chatspace/backend-go/internal/di"
	"github.com/chatspace/backend-go/internal/services"
	"github.com/stretchr/testify/require"
)

// 容器必须能把编排器的完整依赖图装配出来，缺一个构造器这里就会失败
func TestRegisterServicesBuildsOrchestrator(t *testing.T) {
	require.NoError(t, registerServices())

	var orch *services.TurnOrchestrator
	require.NoError(t, di.Invoke(func(o *services.TurnOrchestrator) { orch = o }))
	require.NotNil(t, orch)
}
