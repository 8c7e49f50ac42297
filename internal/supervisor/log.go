package supervisor

import (
	"github.com/sirupsen/logrus"

	"github.com/kil/ubervisor/internal/catalog"
)

func logFields(g *catalog.Group, p *catalog.Process) logrus.Fields {
	return logrus.Fields{
		"group":    g.Name,
		"instance": p.Instance,
		"pid":      p.PID,
	}
}

func logrusFields(g *catalog.Group, instance int) logrus.Fields {
	return logrus.Fields{
		"group":    g.Name,
		"instance": instance,
	}
}
