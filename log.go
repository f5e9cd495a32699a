// Logging for rxstream
// 包级日志器，默认不输出
package rxstream

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var pkgLogger atomic.Pointer[zap.SugaredLogger]

func init() {
	pkgLogger.Store(zap.NewNop().Sugar())
}

// Logger 返回包级日志器
func Logger() *zap.SugaredLogger {
	return pkgLogger.Load()
}

// SetLogger 替换包级日志器，传入nil恢复为不输出，返回旧的日志器
func SetLogger(logger *zap.SugaredLogger) *zap.SugaredLogger {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return pkgLogger.Swap(logger)
}
