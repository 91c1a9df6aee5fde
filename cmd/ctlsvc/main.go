package main

import (
	"os"

	config "github.com/avvvet/wishcard-services/configs"
)

const SERVICE_NAME = "ctl"

func init() {
	instanceId := config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
