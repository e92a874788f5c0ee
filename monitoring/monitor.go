// Package monitoring turns a running simulation into an HTTP server that
// reports its state and lets the user pause it.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"

	"github.com/sarchlab/fedsim/datarecording"
	"github.com/sarchlab/fedsim/federate"
	"github.com/sarchlab/fedsim/monitoring/web"
	"github.com/sarchlab/fedsim/sim"
	"github.com/sarchlab/fedsim/vtime"
)

// Monitor can turn a simulation into a server and allows external monitoring
// controlling of the simulation.
type Monitor struct {
	engine     sim.Engine
	federates  *federate.Registry
	gatherer   prometheus.Gatherer
	portNumber int

	recording      *datarecording.Reader
	flushRecording func()

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	server *http.Server
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		logrus.WithField("port", portNumber).
			Warn("port not allowed for the monitoring server, using a random port")

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterEngine registers the engine that is used in the simulation.
func (m *Monitor) RegisterEngine(e sim.Engine) {
	m.engine = e
}

// RegisterFederates registers the endpoints that can be inspected.
func (m *Monitor) RegisterFederates(r *federate.Registry) {
	m.federates = r
}

// RegisterGatherer sets where the metrics served on /metrics come from.
func (m *Monitor) RegisterGatherer(g prometheus.Gatherer) {
	m.gatherer = g
}

// RegisterRecording lets the monitor serve the recorded tables. flush, if not
// nil, is called before each read so that buffered rows are visible.
func (m *Monitor) RegisterRecording(r *datarecording.Reader, flush func()) {
	m.recording = r
	m.flushRecording = flush
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        sim.GetIDGenerator().Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler serving the monitor API.
func (m *Monitor) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pauseEngine)
	r.HandleFunc("/api/continue", m.continueEngine)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/resolution", m.resolution)
	r.HandleFunc("/api/list_federates", m.listFederates)
	r.HandleFunc("/api/federate/{name}", m.federateDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.HandleFunc("/api/trace", m.listTraceTables)
	r.HandleFunc("/api/trace/{table}", m.readTraceTable)

	if m.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	}

	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server. It returns the URL the
// monitor is reachable at.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d", listener.Addr().(*net.TCPAddr).Port)
	logrus.WithField("url", url).Info("monitoring simulation")

	go func() {
		err := m.server.Serve(listener)
		if !errors.Is(err, http.ErrServerClosed) {
			dieOnErr(err)
		}
	}()

	return url
}

// StopServer shuts the web server down.
func (m *Monitor) StopServer() error {
	if m.server == nil {
		return nil
	}

	err := m.server.Close()
	m.server = nil

	return err
}

// OpenBrowser opens url in the default browser.
func (m *Monitor) OpenBrowser(url string) {
	browser.Stdout = os.Stderr

	if err := browser.OpenURL(url); err != nil {
		logrus.WithError(err).Warn("cannot open browser")
	}
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Pause()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) continueEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Continue()
	_, err := w.Write(nil)
	dieOnErr(err)
}

type nowRsp struct {
	Now     string  `json:"now"`
	Seconds float64 `json:"seconds"`
	Ticks   int64   `json:"ticks"`
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	now := m.engine.Now()

	writeJSON(w, nowRsp{
		Now:     now.String(),
		Seconds: now.GetSeconds(),
		Ticks:   now.TimeStep(),
	})
}

type resolutionRsp struct {
	Unit    string `json:"unit"`
	State   string `json:"state"`
	Tracked int    `json:"tracked"`
}

func (m *Monitor) resolution(w http.ResponseWriter, _ *http.Request) {
	reg := vtime.Default()

	writeJSON(w, resolutionRsp{
		Unit:    reg.Resolution().String(),
		State:   reg.State().String(),
		Tracked: reg.Live(),
	})
}

func (m *Monitor) listFederates(w http.ResponseWriter, _ *http.Request) {
	names := []string{}
	if m.federates != nil {
		names = m.federates.Names()
	}

	writeJSON(w, names)
}

func (m *Monitor) federateDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	app := m.findFederateOr404(w, name)
	if app == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(app)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	FederateName string `json:"federate_name,omitempty"`
	FieldName    string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	app := m.findFederateOr404(w, req.FederateName)
	if app == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(app)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) findFederateOr404(
	w http.ResponseWriter,
	name string,
) *federate.Application {
	var app *federate.Application

	if m.federates != nil {
		app, _ = m.federates.Lookup(name)
	}

	if app == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Federate not found"))
		dieOnErr(err)
	}

	return app
}

// Progress returns a snapshot of the progress bars being shown.
func (m *Monitor) Progress() []ProgressSnapshot {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	bars := make([]ProgressSnapshot, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.Snapshot())
	}

	return bars
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.Progress())
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func (m *Monitor) listTraceTables(w http.ResponseWriter, r *http.Request) {
	if m.recording == nil {
		writeJSON(w, []string{})
		return
	}

	m.flush()

	tables, err := m.recording.Tables(r.Context())
	dieOnErr(err)

	if tables == nil {
		tables = []string{}
	}

	writeJSON(w, tables)
}

// readTraceTable serves a page of a recorded table. The limit, offset and
// order parameters page the rows, since and until bound the Ticks column,
// and any other parameter keeps the rows whose column equals its value.
func (m *Monitor) readTraceTable(w http.ResponseWriter, r *http.Request) {
	if m.recording == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "Error: recording is disabled")

		return
	}

	page, err := traceTablePage(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	m.flush()

	rows, err := m.recording.Read(r.Context(), mux.Vars(r)["table"], page)

	switch {
	case errors.Is(err, datarecording.ErrUnknownTable):
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Error: %s", err)
	case errors.Is(err, datarecording.ErrInvalidPage):
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)
	case err != nil:
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "Error: %s", err)
	default:
		writeJSON(w, rows)
	}
}

const defaultTraceLimit = 100

func traceTablePage(r *http.Request) (datarecording.Page, error) {
	page := datarecording.Page{
		Limit: defaultTraceLimit,
		Match: make(map[string]any),
	}

	var conds []string

	for key, values := range r.URL.Query() {
		v := values[0]

		switch key {
		case "limit", "offset":
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return page, fmt.Errorf("invalid %s %q", key, v)
			}

			if key == "limit" {
				page.Limit = n
			} else {
				page.Offset = n
			}
		case "order":
			page.OrderBy = v
		case "since", "until":
			ticks, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return page, fmt.Errorf("invalid %s %q", key, v)
			}

			op := ">="
			if key == "until" {
				op = "<="
			}

			conds = append(conds, "Ticks "+op+" ?")
			page.Args = append(page.Args, ticks)
		default:
			page.Match[key] = v
		}
	}

	page.Where = strings.Join(conds, " AND ")

	return page, nil
}

func (m *Monitor) flush() {
	if m.flushRecording != nil {
		m.flushRecording()
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		logrus.Panic(err)
	}
}
