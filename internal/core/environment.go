package core

import "fmt"

type Environment string

const (
	DevelopmentEnv Environment = "development"
	ProductionEnv  Environment = "production"
	TestEnv        Environment = "test"
)

// ParseEnvironment validates the value of the --env flag
func ParseEnvironment(s string) (Environment, error) {
	switch env := Environment(s); env {
	case DevelopmentEnv, ProductionEnv, TestEnv:
		return env, nil
	default:
		return "", fmt.Errorf("unknown environment %q, want one of: development, production, test", s)
	}
}

func (e Environment) IsProduction() bool {
	return e == ProductionEnv
}

func (e Environment) IsDevelopment() bool {
	return e == DevelopmentEnv
}
