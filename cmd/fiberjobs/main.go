package main

// ============================================================================
// 職責說明：
// 1. CLI 應用程式入口點
// 2. 執行 CLI 命令並處理頂層錯誤
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/fiberjobs/internal/cli"
)

func main() {
	rootCmd := cli.BuildCLI()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "錯誤: %v\n", err)
		os.Exit(1)
	}
}
