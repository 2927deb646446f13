package config

// LoadFromEnv reads the process environment, falling back to the YAML file
// named by CONFIG_FILE for keys the environment does not set.
func LoadFromEnv() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}
	env := FromEnviron()
	path, ok := env.Lookup("CONFIG_FILE")
	if !ok || path == "" {
		return Load(env)
	}
	file, err := FromYAMLFile(path)
	if err != nil {
		return Config{}, err
	}
	return Load(Layered(env, file))
}
