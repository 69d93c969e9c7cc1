package config

import "os"

func IsDebug() bool {
	return os.Getenv("MNEMO_DEBUG") == "true"
}
