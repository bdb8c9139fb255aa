package common

import (
	"github.com/ternarybob/banner"
)

// AppName is shown in the banner and version output
const AppName = "Harvester"

// PrintBanner displays the application banner
func PrintBanner() {
	banner.PrintSimple(AppName, GetVersion())
}
