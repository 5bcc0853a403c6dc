package config

const (
	EnvPrefix = "tradelane"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvDBDSN  = "TRADELANE_DB_DSN"
	EnvDBHost = "TRADELANE_DB_HOST"
	EnvDBUser = "TRADELANE_DB_USER"
	EnvDBName = "TRADELANE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
