package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"tuya-ble-cloud/internal/bootstrap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults to $TUYA_BLE_CONFIG or ./config.yaml)")
	noDotEnv := flag.Bool("no-dotenv", false, "do not load .env")
	flag.Parse()

	fmt.Printf("[%s] [INFO] [引导] 开始启动 tuya-ble-credd...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	err := bootstrap.Run(context.Background(), bootstrap.Options{
		ConfigPath:    *configPath,
		DisableDotEnv: *noDotEnv,
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "tuya-ble-credd failed: %v\n", err)
		os.Exit(1)
	}
}
