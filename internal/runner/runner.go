package runner

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/utils/conversion"
	errorutil "github.com/projectdiscovery/utils/errors"

	"github.com/liquidgalaxy/lg-agent/internal/server"
	"github.com/liquidgalaxy/lg-agent/pkg/galaxy"
	"github.com/liquidgalaxy/lg-agent/pkg/galaxy/audit"
	"github.com/liquidgalaxy/lg-agent/pkg/generate"
	"github.com/liquidgalaxy/lg-agent/pkg/geo"
	"github.com/liquidgalaxy/lg-agent/pkg/kml"
	"github.com/liquidgalaxy/lg-agent/pkg/rig"
	"github.com/liquidgalaxy/lg-agent/pkg/sshexec"
)

// Runner contains the internal logic of the program
type Runner struct {
	options    *Options
	client     *sshexec.Client
	controller *galaxy.Controller
	generator  *generate.Client
	geocoder   *geo.Client
	auditor    *audit.Log
	closeOnce  sync.Once
}

// NewRunner instance
func NewRunner(options *Options) (*Runner, error) {
	r := &Runner{options: options, geocoder: geo.New()}

	if options.APIKey != "" {
		generator, err := generate.New(options.APIKey)
		if err != nil {
			return nil, err
		}
		r.generator = generator
	}
	return r, nil
}

// Run the instance
func (r *Runner) Run(ctx context.Context) error {
	if r.options.Host != "" {
		if err := r.connect(ctx); err != nil {
			return err
		}
	}

	if r.options.Serve {
		return r.serve(ctx)
	}

	if r.controller == nil {
		return errorutil.New("no cluster configured: set -host (or LG_HOST) or run with -serve")
	}

	switch {
	case r.options.Shutdown:
		return r.printResult("shutdown", r.controller.Shutdown(ctx))
	case r.options.Reboot:
		return r.printResult("reboot", r.controller.Reboot(ctx))
	case r.options.Relaunch:
		return r.printResult("relaunch", r.controller.RelaunchViewer(ctx))
	case r.options.FlyToQuery != "":
		return r.flyToQuery(ctx)
	case r.options.KMLFile != "":
		return r.displayFile(ctx)
	case r.options.TourName != "":
		return r.controller.PlayTour(ctx, r.options.TourName)
	case r.options.ExitTour:
		return r.controller.ExitTour(ctx)
	case r.options.Clear:
		return r.controller.ClearAll(ctx)
	case r.options.LogoFile != "":
		return r.setLogo(ctx)
	}
	return errorutil.New("no operation requested, see -h for the available ones")
}

func (r *Runner) connect(ctx context.Context) error {
	cluster := &rig.Cluster{
		Host:     r.options.Host,
		Port:     r.options.Port,
		Username: r.options.Username,
		Password: r.options.Password,
		Rigs:     r.options.Rigs,
	}
	if err := cluster.Validate(); err != nil {
		return err
	}

	client, err := sshexec.Dial(ctx, &sshexec.Config{
		Host:     cluster.Host,
		Port:     cluster.Port,
		Username: cluster.Username,
		Password: func() (string, error) { return cluster.Password, nil },
	})
	if err != nil {
		return err
	}
	r.client = client

	opts := []galaxy.Option{}
	if r.options.Parallel > 0 {
		opts = append(opts, galaxy.WithFanOutParallelism(r.options.Parallel))
	}
	if r.options.AuditLog != "" {
		auditor, err := audit.New(r.options.AuditLog, cluster.Password)
		if err != nil {
			return errorutil.NewWithErr(err).Msgf("could not open audit log")
		}
		r.auditor = auditor
		opts = append(opts, galaxy.WithAuditLog(auditor))
	}

	controller, err := galaxy.New(cluster, client, opts...)
	if err != nil {
		return err
	}
	r.controller = controller
	return nil
}

func (r *Runner) serve(ctx context.Context) error {
	if r.controller != nil {
		monitor := galaxy.NewMonitor(r.controller, 30*time.Second)
		go monitor.Start(ctx)
	}
	return server.New(r.options.Listen, r.generator, r.controller).ListenAndServe(ctx)
}

func (r *Runner) flyToQuery(ctx context.Context) error {
	if r.generator == nil {
		// no generation backend: treat the query as a place name
		if r.options.TourName != "" {
			return errorutil.New("tour generation requires an api key (-api-key or GOOGLE_API_KEY)")
		}
		place, err := r.geocoder.Geocode(ctx, r.options.FlyToQuery)
		if err != nil {
			return err
		}
		gologger.Info().Msgf("flying to %s (%.4f, %.4f)", place.Name, place.Latitude, place.Longitude)
		return r.controller.FlyTo(ctx, geo.LookAtKML(place))
	}
	doc, err := r.generator.GenerateKML(ctx, r.options.FlyToQuery)
	if err != nil {
		return err
	}
	if r.options.TourName != "" {
		return r.controller.ShowTour(ctx, doc, r.options.TourName)
	}
	return r.controller.FlyTo(ctx, doc)
}

func (r *Runner) displayFile(ctx context.Context) error {
	doc, err := os.ReadFile(r.options.KMLFile)
	if err != nil {
		return err
	}
	document := conversion.String(doc)
	if err := kml.Validate(document); err != nil {
		gologger.Warning().Msgf("%s: %s", r.options.KMLFile, err)
	}
	if r.options.TourName != "" {
		return r.controller.ShowTour(ctx, document, r.options.TourName)
	}
	return r.controller.FlyTo(ctx, document)
}

func (r *Runner) setLogo(ctx context.Context) error {
	doc, err := os.ReadFile(r.options.LogoFile)
	if err != nil {
		return err
	}
	rigID := r.options.LogoRig
	if rigID == 0 {
		// leftmost screen of the standard arc layout
		rigID = leftmostRig(r.options.Rigs)
	}
	return r.controller.SetLogo(ctx, rigID, conversion.String(doc))
}

// leftmostRig returns the rig driving the leftmost screen: the master sits
// center and slaves wrap around it, so the leftmost is floor(n/2)+2.
func leftmostRig(rigs int) int {
	if rigs <= 1 {
		return rig.MasterRig
	}
	return rigs/2 + 2
}

func (r *Runner) printResult(action string, result rig.ClusterResult) error {
	for _, o := range result.Outcomes {
		if o.Success {
			fmt.Printf("rig %d: %s\n", o.RigID, au.Green("ok"))
		} else {
			fmt.Printf("rig %d: %s (%s)\n", o.RigID, au.Red("failed"), o.Detail())
		}
	}
	if failed := result.Failed(); len(failed) > 0 {
		return errorutil.New("%s failed on %d of %d rigs", action, len(failed), len(result.Outcomes))
	}
	gologger.Info().Msgf("%s completed on all %d rigs", action, len(result.Outcomes))
	return nil
}

// Close the runner instance
func (r *Runner) Close() {
	r.closeOnce.Do(r.close)
}

func (r *Runner) close() {
	if r.auditor != nil {
		if err := r.auditor.Close(); err != nil {
			gologger.Warning().Msgf("audit log close failed: %s", err)
		}
	}
	if r.client != nil {
		if err := r.client.Close(); err != nil {
			gologger.Warning().Msgf("ssh close failed: %s", err)
		}
	}
}
