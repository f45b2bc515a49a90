package constant

const (
	ProductionEnvironment  = "production"
	DevelopmentEnvironment = "development"
)

const (
	DatabaseReference = "reference"
	RedisSubmission   = "submission_guard"
)
