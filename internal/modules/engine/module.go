package engine

import "go.uber.org/fx"

// Decide — чистая функция, провайдить нечего, модуль держим для единообразия графа.
func Module() fx.Option {
	return fx.Module("engine")
}
