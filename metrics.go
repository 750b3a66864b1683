// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package sandpam

import "expvar"

// clientMetrics record client activity counters.
type clientMetrics struct {
	calls       expvar.Int // number of Authenticate calls
	callsFailed expvar.Int // number of Authenticate calls reporting an error
	callPending expvar.Int // calls waiting for a response
	reqSent     expvar.Int // request frames written to the worker
	rspRecv     expvar.Int // response frames read from the worker
	rspDropped  expvar.Int // responses discarded for an unknown ID
	sendErrors  expvar.Int // failed writes to the worker

	emap *expvar.Map
}

var metrics = newClientMetrics()

func newClientMetrics() *clientMetrics {
	cm := &clientMetrics{emap: new(expvar.Map)}
	cm.emap.Set("calls", &cm.calls)
	cm.emap.Set("calls_failed", &cm.callsFailed)
	cm.emap.Set("calls_pending", &cm.callPending)
	cm.emap.Set("requests_sent", &cm.reqSent)
	cm.emap.Set("responses_received", &cm.rspRecv)
	cm.emap.Set("responses_dropped", &cm.rspDropped)
	cm.emap.Set("send_errors", &cm.sendErrors)
	return cm
}
