package runner

import (
	"fmt"

	"github.com/projectdiscovery/gologger"

	"github.com/liquidgalaxy/lg-agent/pkg/version"
)

var banner = fmt.Sprintf(`
   __                             __
  / /___ _      ____ _____ ____  / /_
 / / __ '/_____/ __ '/ __ '/ _ \/ __/
/ / /_/ /_____/ /_/ / /_/ /  __/ /_
\_\__, /      \__,_/\__, /\___/\__/
  /____/           /____/       %s
`, version.GetVersion())

func showBanner() {
	gologger.Print().Msgf("%s\n", banner)
}
