package web

import (
	"net/http"
	"os"
	"sort"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"github.com/atlassian/gobrubeck/pkg/metric"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// flowStatsTop is the number of metrics listed by /flow_stats.
const flowStatsTop = 32

const (
	statusOK           = "OK"
	statusDisconnected = "ERROR (backend disconnected)"
)

var processID = os.Getpid

type pingDocument struct {
	Version          string  `json:"version"`
	PID              int     `json:"pid"`
	Status           string  `json:"status"`
	MetricsPerSecond float64 `json:"metrics_per_second"`
	ErrorsPerSecond  float64 `json:"errors_per_second"`
	UniqueKeys       uint64  `json:"unique_keys"`
}

type secureDocument struct {
	Failed     uint64 `json:"failed"`
	FromFuture uint64 `json:"from_future"`
	Delayed    uint64 `json:"delayed"`
	Replayed   uint64 `json:"replayed"`
}

type storeDocument struct {
	Size         int    `json:"size"`
	Capacity     int    `json:"capacity"`
	AtCapacity   bool   `json:"at_capacity"`
	RejectedKeys uint64 `json:"rejected_keys"`
}

type backendDocument struct {
	Type      string  `json:"type"`
	Shard     int     `json:"shard"`
	Frequency float64 `json:"sample_freq"`
	Connected bool    `json:"connected"`
	Address   string  `json:"address"`
	Sent      uint64  `json:"sent"`
}

type samplerDocument struct {
	Type    string `json:"type"`
	Address string `json:"address"`
	Workers int    `json:"workers"`
	Flow    uint64 `json:"sample_freq"`
}

type statsDocument struct {
	Version    string            `json:"version"`
	Metrics    uint64            `json:"metrics"`
	Errors     uint64            `json:"errors"`
	UniqueKeys uint64            `json:"unique_keys"`
	Memory     uint64            `json:"memory"`
	Secure     secureDocument    `json:"secure"`
	Store      storeDocument     `json:"store"`
	Backends   []backendDocument `json:"backends"`
	Samplers   []samplerDocument `json:"samplers"`
}

type metricDocument struct {
	Key    string `json:"key"`
	Type   string `json:"type"`
	Shard  int    `json:"shard"`
	Expire string `json:"expire"`
}

type flowDocument struct {
	Key  string `json:"key"`
	Hits uint64 `json:"hits"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	_ = enc.Encode(v)
}

func (hs *Server) version() string {
	return "gobrubeck " + hs.opts.Version
}

func (hs *Server) ping(w http.ResponseWriter, req *http.Request) {
	status := statusOK
	for _, b := range hs.opts.Backends {
		if !b.Encoder().Connected() {
			status = statusDisconnected
			break
		}
	}
	snap := hs.opts.Stats.Last()
	writeJSON(w, http.StatusOK, pingDocument{
		Version:          hs.version(),
		PID:              hs.pid,
		Status:           status,
		MetricsPerSecond: snap.PerSecond(snap.Metrics),
		ErrorsPerSecond:  snap.PerSecond(snap.Errors),
		UniqueKeys:       hs.opts.Stats.Live().UniqueKeys,
	})
}

func (hs *Server) statsDocument() statsDocument {
	// Interval counters come from the last completed sample, gauges are live.
	snap := hs.opts.Stats.Last()
	live := hs.opts.Stats.Live()
	st := hs.opts.Store
	doc := statsDocument{
		Version:    hs.version(),
		Metrics:    snap.Metrics,
		Errors:     snap.Errors,
		UniqueKeys: live.UniqueKeys,
		Memory:     live.Memory,
		Secure: secureDocument{
			Failed:     snap.SecureFailed,
			FromFuture: snap.SecureFromFuture,
			Delayed:    snap.SecureDelayed,
			Replayed:   snap.SecureReplayed,
		},
		Store: storeDocument{
			Size:         st.Len(),
			Capacity:     st.Capacity(),
			AtCapacity:   st.AtCapacity(),
			RejectedKeys: st.RejectedEstimate(),
		},
		Backends: make([]backendDocument, 0, len(hs.opts.Backends)),
		Samplers: make([]samplerDocument, 0, len(hs.opts.Samplers)),
	}
	for _, b := range hs.opts.Backends {
		enc := b.Encoder()
		doc.Backends = append(doc.Backends, backendDocument{
			Type:      enc.Name(),
			Shard:     b.Shard(),
			Frequency: b.Frequency().Seconds(),
			Connected: enc.Connected(),
			Address:   enc.Address(),
			Sent:      enc.Sent(),
		})
	}
	for _, sm := range hs.opts.Samplers {
		doc.Samplers = append(doc.Samplers, samplerDocument{
			Type:    sm.Name(),
			Address: sm.Address(),
			Workers: sm.Workers(),
			Flow:    sm.CurrentFlow(),
		})
	}
	return doc
}

func (hs *Server) stats(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, hs.statsDocument())
}

func (hs *Server) metric(w http.ResponseWriter, req *http.Request) {
	m := hs.opts.Store.Find(mux.Vars(req)["key"])
	if m == nil {
		hs.notFound(w, req)
		return
	}
	writeJSON(w, http.StatusOK, metricDocument{
		Key:    m.Key,
		Type:   m.Kind.String(),
		Shard:  m.Shard,
		Expire: m.State().String(),
	})
}

func (hs *Server) expire(w http.ResponseWriter, req *http.Request) {
	key := mux.Vars(req)["key"]
	m := hs.opts.Store.Find(key)
	if m == nil {
		hs.notFound(w, req)
		return
	}
	m.Disable()
	hs.logger.WithField("key", key).Info("Metric disabled")
	w.WriteHeader(http.StatusOK)
}

// topFlows returns the n metrics with the most hits, most hit first. Ties are
// ordered by key.
func topFlows(store MetricStore, n int) []flowDocument {
	var all []flowDocument
	store.Foreach(func(m *metric.Metric) {
		all = append(all, flowDocument{Key: m.Key, Hits: m.Hits()})
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].Hits != all[j].Hits {
			return all[i].Hits > all[j].Hits
		}
		return all[i].Key < all[j].Key
	})
	if len(all) > n {
		all = all[:n]
	}
	if all == nil {
		all = []flowDocument{}
	}
	return all
}

func (hs *Server) flowStats(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, topFlows(hs.opts.Store, flowStatsTop))
}
