package config

// ConfigCallback allows packages to react to the configuration once it is
// built, without importing the package that builds it (e.g. the logger).
type ConfigCallback[T any] struct {
	callbacks []func(T)
}

func (c *ConfigCallback[T]) AddCallback(f func(T)) {
	c.callbacks = append(c.callbacks, f)
}

func (c *ConfigCallback[T]) Call(o T) {
	for _, f := range c.callbacks {
		f(o)
	}
}
