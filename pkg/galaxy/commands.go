package galaxy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/liquidgalaxy/lg-agent/pkg/rig"
)

// Remote filesystem layout of a stock Liquid Galaxy rig. Content slots are
// served from the master's web root; every rig's viewer discovers its slot
// through the myplaces manifest in the login user's home.
const (
	kmlDirPath = "/var/www/html/kml"
	queryPath  = "/tmp/query.txt"
)

// refreshDirective is the short-poll directive appended next to a slot's
// manifest reference during phase one of a forced refresh. Phase two must
// remove exactly this string to restore the manifest.
const refreshDirective = "<refreshMode>onInterval</refreshMode><refreshInterval>1</refreshInterval>"

func slotPath(slot string) string {
	return fmt.Sprintf("%s/%s.kml", kmlDirPath, slot)
}

func myplacesPath(username string) string {
	return fmt.Sprintf("/home/%s/earth/kml/slave/myplaces.kml", username)
}

func slotHref(slot string) string {
	return fmt.Sprintf("<href>##LG_PHPIFACE##kml/%s.kml</href>", slot)
}

// slotRig maps a slot name back to the rig whose viewer reads it.
func slotRig(slot string) (int, error) {
	if slot == "master" {
		return rig.MasterRig, nil
	}
	if id, ok := strings.CutPrefix(slot, "slave_"); ok {
		n, err := strconv.Atoi(id)
		if err == nil && n > rig.MasterRig {
			return n, nil
		}
	}
	return 0, fmt.Errorf("unknown slot %q", slot)
}

// quoteSingle wraps s in single quotes using the standard '\'' escape so it
// survives one level of remote shell evaluation intact.
func quoteSingle(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// writeFileCommand writes already-escaped content to a fixed remote path.
// The content MUST have gone through kml.EscapeShellPayload first; this is
// the only place a payload meets shell syntax.
func writeFileCommand(path, escapedContent string) string {
	return fmt.Sprintf(`echo "%s" > %s`, escapedContent, path)
}

// writeQueryCommand overwrites the single-line tour signal file. The value
// carries caller-supplied tour names, so it goes through quoteSingle.
func writeQueryCommand(value string) string {
	return fmt.Sprintf(`echo %s > %s`, quoteSingle(value), queryPath)
}

// throughAlias routes a command to a specific rig. Commands for the master
// run directly on the dialed session; commands for slaves hop through the
// per-rig hostname alias with the shared secret. The secret is interpolated
// at call time because it is inherently a runtime value.
func throughAlias(username, password string, rigID int, inner string) string {
	if rigID == rig.MasterRig {
		return inner
	}
	return fmt.Sprintf("sshpass -p %s ssh -x -t %s@%s %s",
		quoteSingle(password), username, rig.HostAlias(rigID), quoteSingle(inner))
}

// addRefreshCommand is phase one of the refresh trick: append the
// short-poll directive next to the slot's manifest reference.
func addRefreshCommand(username, password, slot string) string {
	href := slotHref(slot)
	inner := fmt.Sprintf(`echo %s | sudo -S sed -i "s|%s|%s%s|" %s`,
		quoteSingle(password), href, href, refreshDirective, myplacesPath(username))
	return inner
}

// removeRefreshCommand is phase two: strip the directive, restoring the
// manifest to its pre-trigger form. Leaving phase one in place keeps the
// viewer permanently in a polling state.
func removeRefreshCommand(username, password, slot string) string {
	href := slotHref(slot)
	inner := fmt.Sprintf(`echo %s | sudo -S sed -i "s|%s%s|%s|" %s`,
		quoteSingle(password), href, refreshDirective, href, myplacesPath(username))
	return inner
}

// powerCommand builds a privilege-escalated one-shot command for a rig,
// piping the secret to sudo on the far side.
func powerCommand(username, password string, rigID int, action string) string {
	inner := fmt.Sprintf("echo %s | sudo -S %s", quoteSingle(password), action)
	return fmt.Sprintf("sshpass -p %s ssh -x -t %s@%s %s",
		quoteSingle(password), username, rig.HostAlias(rigID), quoteSingle(inner))
}

// relaunchCommand restarts the display manager that hosts the viewer on a
// rig, starting it if it is stopped.
func relaunchCommand(username, password string, rigID int) string {
	quoted := quoteSingle(password)
	inner := fmt.Sprintf(
		`if [ -f /etc/init/lxdm.conf ]; then SVC=lxdm; elif [ -f /etc/init/lightdm.conf ]; then SVC=lightdm; else exit 1; fi; `+
			`if service $SVC status | grep -q stop; then echo %s | sudo -S service $SVC start; else echo %s | sudo -S service $SVC restart; fi`,
		quoted, quoted)
	return fmt.Sprintf("sshpass -p %s ssh -x -t %s@%s %s",
		quoteSingle(password), username, rig.HostAlias(rigID), quoteSingle(inner))
}
