// Package api exposes the host's status objects and gcode intake over
// HTTP and WebSocket, using the Moonraker JSON-RPC conventions so
// existing machine frontends can drive an IDEX host.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"idex-host/pkg/events"
	"idex-host/pkg/log"
)

// HostInterface is what the server needs from the host process.
type HostInterface interface {
	// ObjectsList returns the queryable status object names.
	ObjectsList() []string

	// ObjectStatus returns one object's status. A nil attrs selects all
	// attributes.
	ObjectStatus(name string, attrs []string) map[string]interface{}

	// ExecuteGCode runs a gcode script on the command goroutine.
	ExecuteGCode(script string) error

	// EmergencyStop triggers a fault stop on the active carriage.
	EmergencyStop()

	// State returns the host state: "ready", "error" or "shutdown".
	State() string
}

// Config holds server configuration.
type Config struct {
	Addr string
	Host HostInterface
	Bus  *events.Bus
}

// Server is the API frontend.
type Server struct {
	host   HostInterface
	bus    *events.Bus
	logger *log.Logger

	httpServer *http.Server
	addr       string

	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*wsClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	// clientID -> object -> attributes
	subscriptions map[int64]map[string][]string
	subMu         sync.RWMutex

	running   atomic.Bool
	startTime time.Time
}

// New creates the API server and subscribes it to host events.
func New(cfg Config, logger *log.Logger) *Server {
	s := &Server{
		host:          cfg.Host,
		bus:           cfg.Bus,
		logger:        logger,
		addr:          cfg.Addr,
		wsClients:     make(map[int64]*wsClient),
		subscriptions: make(map[int64]map[string][]string),
		startTime:     time.Now(),
	}
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	if s.bus != nil {
		s.bus.Subscribe(s.onEvent)
	}
	return s
}

// Start serves until the listener closes.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/server/info", s.handleServerInfo)
	mux.HandleFunc("/printer/objects/list", s.handleObjectsList)
	mux.HandleFunc("/printer/objects/query", s.handleObjectsQuery)
	mux.HandleFunc("/printer/gcode/script", s.handleGCodeScript)
	mux.HandleFunc("/printer/emergency_stop", s.handleEmergencyStop)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.corsMiddleware(mux),
	}

	s.running.Store(true)
	s.logger.Info("API server listening on %s", s.addr)

	go s.statusBroadcastLoop()

	return s.httpServer.ListenAndServe()
}

// Stop closes all client connections and the listener.
func (s *Server) Stop() error {
	s.running.Store(false)

	s.wsClientMu.Lock()
	for _, client := range s.wsClients {
		client.close()
	}
	s.wsClients = make(map[int64]*wsClient)
	s.wsClientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// onEvent pushes coordination events (collisions, mode switches, fault
// stops) to every connected client as they happen.
func (s *Server) onEvent(ev events.Event) {
	notification := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "notify_idex_event",
		"params": []interface{}{map[string]interface{}{
			"type":    string(ev.Type),
			"time":    ev.Time.UnixMilli(),
			"message": ev.Message,
			"data":    ev.Data,
		}},
	}
	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	for _, client := range s.wsClients {
		client.send(notification)
	}
}

type jsonRPCRequest struct {
	JSONRPC string                 `json:"jsonrpc"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
	ID      interface{}            `json:"id,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
	ID      interface{}   `json:"id,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONRPCError(w, nil, -32700, "Parse error")
		return
	}
	result, err := s.dispatchMethod(req.Method, req.Params, nil)
	if err != nil {
		s.writeJSONRPCError(w, req.ID, -32000, err.Error())
		return
	}
	s.writeJSONRPCResult(w, req.ID, result)
}

func (s *Server) dispatchMethod(method string, params map[string]interface{}, client *wsClient) (interface{}, error) {
	switch method {
	case "server.info":
		return s.methodServerInfo()
	case "printer.objects.list":
		return map[string]interface{}{"objects": s.host.ObjectsList()}, nil
	case "printer.objects.query":
		return s.methodObjectsQuery(params)
	case "printer.objects.subscribe":
		return s.methodObjectsSubscribe(params, client)
	case "printer.gcode.script":
		return s.methodGCodeScript(params)
	case "printer.emergency_stop":
		s.host.EmergencyStop()
		return map[string]interface{}{}, nil
	default:
		return nil, fmt.Errorf("method not found: %s", method)
	}
}

func (s *Server) methodServerInfo() (interface{}, error) {
	hostname, _ := os.Hostname()
	state := s.host.State()
	return map[string]interface{}{
		"klippy_connected": state == "ready",
		"klippy_state":     state,
		"hostname":         hostname,
		"websocket_count":  len(s.wsClients),
	}, nil
}

func (s *Server) methodObjectsQuery(params map[string]interface{}) (interface{}, error) {
	objects, err := objectsParam(params)
	if err != nil {
		return nil, err
	}
	result := make(map[string]interface{})
	for objName, attrs := range objects {
		if status := s.host.ObjectStatus(objName, attrs); status != nil {
			result[objName] = status
		}
	}
	return map[string]interface{}{
		"eventtime": s.eventtime(),
		"status":    result,
	}, nil
}

func (s *Server) methodObjectsSubscribe(params map[string]interface{}, client *wsClient) (interface{}, error) {
	if client == nil {
		return nil, fmt.Errorf("subscription requires WebSocket connection")
	}
	objects, err := objectsParam(params)
	if err != nil {
		return nil, err
	}
	s.subMu.Lock()
	s.subscriptions[client.id] = objects
	s.subMu.Unlock()

	return s.methodObjectsQuery(params)
}

func (s *Server) methodGCodeScript(params map[string]interface{}) (interface{}, error) {
	script, ok := params["script"].(string)
	if !ok {
		return nil, fmt.Errorf("missing 'script' parameter")
	}
	if err := s.host.ExecuteGCode(script); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

// objectsParam parses the objects map of a query/subscribe request: a
// null attribute list selects all attributes.
func objectsParam(params map[string]interface{}) (map[string][]string, error) {
	raw, ok := params["objects"]
	if !ok {
		return nil, fmt.Errorf("missing 'objects' parameter")
	}
	objects, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("'objects' must be an object")
	}
	out := make(map[string][]string, len(objects))
	for name, attrsVal := range objects {
		var attrs []string
		if attrList, ok := attrsVal.([]interface{}); ok {
			for _, attr := range attrList {
				if str, ok := attr.(string); ok {
					attrs = append(attrs, str)
				}
			}
		}
		out[name] = attrs
	}
	return out, nil
}

func (s *Server) eventtime() float64 {
	return float64(time.Since(s.startTime).Milliseconds()) / 1000.0
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	result, _ := s.methodServerInfo()
	s.writeJSON(w, map[string]interface{}{"result": result})
}

func (s *Server) handleObjectsList(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"result": map[string]interface{}{"objects": s.host.ObjectsList()},
	})
}

func (s *Server) handleObjectsQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var params map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		s.writeJSONError(w, err)
		return
	}
	result, err := s.methodObjectsQuery(params)
	if err != nil {
		s.writeJSONError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"result": result})
}

func (s *Server) handleGCodeScript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var params map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		s.writeJSONError(w, err)
		return
	}
	result, err := s.methodGCodeScript(params)
	if err != nil {
		s.writeJSONError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"result": result})
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	s.host.EmergencyStop()
	s.writeJSON(w, map[string]interface{}{"result": map[string]interface{}{}})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeJSONError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{"code": -32000, "message": err.Error()},
	})
}

func (s *Server) writeJSONRPCResult(w http.ResponseWriter, id, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jsonRPCResponse{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) writeJSONRPCError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jsonRPCResponse{JSONRPC: "2.0", Error: &jsonRPCError{Code: code, Message: message}, ID: id})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("WebSocket upgrade failed")
		return
	}

	client := s.newWSClient(conn)
	s.wsClientMu.Lock()
	s.wsClients[client.id] = client
	s.wsClientMu.Unlock()
	s.logger.Debug("WebSocket client %d connected", client.id)

	go client.writePump()
	client.readPump()
}

func (s *Server) removeClient(client *wsClient) {
	s.wsClientMu.Lock()
	delete(s.wsClients, client.id)
	s.wsClientMu.Unlock()

	s.subMu.Lock()
	delete(s.subscriptions, client.id)
	s.subMu.Unlock()
	s.logger.Debug("WebSocket client %d disconnected", client.id)
}

// statusBroadcastLoop pushes subscribed status objects at 4 Hz.
func (s *Server) statusBroadcastLoop() {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for s.running.Load() {
		<-ticker.C
		s.broadcastStatusUpdates()
	}
}

func (s *Server) broadcastStatusUpdates() {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for clientID, objects := range s.subscriptions {
		s.wsClientMu.RLock()
		client, ok := s.wsClients[clientID]
		s.wsClientMu.RUnlock()
		if !ok {
			continue
		}

		status := make(map[string]interface{})
		for objName, attrs := range objects {
			if objStatus := s.host.ObjectStatus(objName, attrs); objStatus != nil {
				status[objName] = objStatus
			}
		}
		if len(status) == 0 {
			continue
		}

		client.send(map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "notify_status_update",
			"params":  []interface{}{status, s.eventtime()},
		})
	}
}
