package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/monify-labs/swapguard/pkg/models"
)

var (
	colorSuccess = color.New(color.FgGreen, color.Bold)
	colorError   = color.New(color.FgRed, color.Bold)
	colorWarning = color.New(color.FgYellow, color.Bold)
	colorStep    = color.New(color.FgMagenta, color.Bold)
)

func printError(format string, args ...interface{}) {
	colorError.Fprint(os.Stderr, "✗ ")
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	colorWarning.Print("⚠ ")
	fmt.Printf(format+"\n", args...)
}

func printReport(r *models.Report) {
	s := r.Sample

	fmt.Println()
	colorStep.Println("▶ Current memory usage")
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Printf("  RAM:  %5.1f%% used (%.0f MB of %.0f MB)\n", s.RAMUsedPercent, s.RAMUsedMB, s.RAMTotalMB)
	fmt.Printf("  Swap: %5.1f%% used (%.0f MB of %.0f MB)\n", s.SwapUsedPercent, s.SwapUsedMB, s.SwapTotalMB)
	fmt.Println()
	fmt.Printf("  Additional swap files: %d of %d\n", r.InUse, r.MaxSlots)

	for _, slot := range r.Slots {
		if !slot.Exists {
			continue
		}
		if slot.Active {
			colorSuccess.Print("    ✓ ")
			fmt.Printf("%s (active)\n", slot.Path)
		} else {
			colorWarning.Print("    ⚠ ")
			fmt.Printf("%s (present, not active)\n", slot.Path)
		}
	}
	fmt.Println()
}
