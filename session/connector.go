package session

import "github.com/lorenzodonini/ocpp-go/ocpp1.6/core"

type connector struct {
	status             core.ChargePointStatus
	errorCode          core.ChargePointErrorCode
	currentTransaction int
	restoreAttempted   bool
}

func (c *connector) hasTransactionInProgress() bool {
	return c.currentTransaction >= 0
}

// getConnector must be called with cp.mu held.
func (cp *ChargePoint) getConnector(id int) *connector {
	c, ok := cp.connectors[id]
	if !ok {
		c = &connector{currentTransaction: -1}
		cp.connectors[id] = c
	}
	return c
}
