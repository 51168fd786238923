package output

type ConfigPort interface {
	Get(key string) string
	MustGet(key string) string
	GetWithDefault(key string, defaultValue string) string
	GetInt(key string) int
	GetFloat(key string) float64
	GetBool(key string) bool
}
