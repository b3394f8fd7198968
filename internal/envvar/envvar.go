package envvar

const (
	// WhisperdEnv is the environment variable used to determine the environment
	WhisperdEnv = "WHISPERD_ENV"

	// WhisperdServerHTTPPort is the environment variable used to determine the HTTP port
	WhisperdServerHTTPPort = "WHISPERD_SERVER_HTTP_PORT"

	// WhisperdServerGRPCPort is the environment variable used to determine the gRPC port
	WhisperdServerGRPCPort = "WHISPERD_SERVER_GRPC_PORT"

	// WhisperdModelsPath overrides storage.models_dir
	WhisperdModelsPath = "WHISPERD_MODELS_PATH"

	// WhisperdLogLevel overrides logging.level
	WhisperdLogLevel = "WHISPERD_LOG_LEVEL"
)
