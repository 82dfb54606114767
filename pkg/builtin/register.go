package builtin

import (
	"github.com/CloudXploit/appcm-diagkernel/pkg/connector"
	"github.com/CloudXploit/appcm-diagkernel/pkg/registry"
	"github.com/CloudXploit/appcm-diagkernel/pkg/remediation"
	"github.com/CloudXploit/appcm-diagkernel/pkg/ruleengine"
)

// Register installs the built-in catalog into reg (rules, actions,
// per-category scanners) and binds every built-in operation to a
// Connector-backed handler on remed. The Kernel Facade calls this once
// during Init; plugins arriving later go through the same Registry
// ports and may supersede any built-in by version.
func Register(reg *registry.Registry, remed *remediation.Engine, conn connector.Connector, eng *ruleengine.Engine, batchSize int) error {
	for _, rule := range Rules() {
		if err := reg.RegisterRule(rule); err != nil {
			return err
		}
	}
	for _, action := range Actions() {
		if err := reg.RegisterAction(action); err != nil {
			return err
		}
	}
	for _, s := range Scanners(conn, eng, batchSize) {
		if err := reg.RegisterScanner(s); err != nil {
			return err
		}
	}
	registerHandlers(remed, conn)
	return nil
}
