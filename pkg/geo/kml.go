package geo

import (
	"fmt"
	"strings"

	"github.com/liquidgalaxy/lg-agent/pkg/kml"
)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// LookAtKML renders a place as a minimal fly-to document: a named Placemark
// with a LookAt camera over the coordinate. Used when no generation backend
// is configured.
func LookAtKML(place *Place) string {
	name := xmlEscaper.Replace(place.Name)
	body := fmt.Sprintf(`<Placemark>
<name>%s</name>
<LookAt>
<longitude>%s</longitude>
<latitude>%s</latitude>
<altitude>0</altitude>
<heading>0</heading>
<tilt>45</tilt>
<range>10000</range>
<altitudeMode>relativeToGround</altitudeMode>
</LookAt>
<Point>
<coordinates>%s,%s,0</coordinates>
</Point>
</Placemark>`,
		name,
		formatFloat(place.Longitude), formatFloat(place.Latitude),
		formatFloat(place.Longitude), formatFloat(place.Latitude))
	return kml.WrapDocument(name, body)
}
