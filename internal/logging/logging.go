package logging

import "go.uber.org/zap"

// New builds the process logger. Production gets JSON output at info level,
// everything else the console encoder at debug.
func New(appEnv string) (*zap.Logger, error) {
	if appEnv == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
