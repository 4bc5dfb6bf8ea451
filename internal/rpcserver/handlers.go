package rpcserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/JeanOUINA/vite-work-server/common/hexutil"
	"github.com/JeanOUINA/vite-work-server/internal/engine"
	"github.com/JeanOUINA/vite-work-server/internal/powhash"
)

// decodeHashThreshold parses the two fields work_generate and work_validate
// share, returning a BadRequest-shaped error on any failure
// (spec §7: malformed hex or wrong-length hash/threshold).
func decodeHashThreshold(hashHex, thresholdHex string) (hash [32]byte, threshold uint64, err error) {
	hb, err := hexutil.DecodeFixed(hashHex, powhash.HashSize)
	if err != nil {
		return hash, 0, errors.New("invalid hash: " + err.Error())
	}
	copy(hash[:], hb)
	threshold, err = hexutil.DecodeUint64BE(thresholdHex)
	if err != nil {
		return hash, 0, errors.New("invalid threshold: " + err.Error())
	}
	return hash, threshold, nil
}

func (s *Server) workGenerate(w http.ResponseWriter, req request) {
	hash, threshold, err := decodeHashThreshold(req.Hash, req.Threshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := s.dispatcher.Submit(hash, threshold)
	<-job.Done()
	nonce, err := job.Outcome()
	if err != nil {
		writeEngineError(w, err)
		return
	}

	_, achieved := powhash.Meets(hash, nonce, threshold)
	writeJSON(w, map[string]string{
		"work":      hexutil.EncodeUint64BE(nonce),
		"threshold": hexutil.EncodeUint64BE(achieved),
	})
}

func (s *Server) workValidate(w http.ResponseWriter, req request) {
	hash, threshold, err := decodeHashThreshold(req.Hash, req.Threshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	nonce, err := hexutil.DecodeUint64BE(req.Work)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid work: "+err.Error())
		return
	}

	ok, achieved := powhash.Meets(hash, nonce, threshold)
	writeJSON(w, map[string]interface{}{
		"valid":     ok,
		"threshold": hexutil.EncodeUint64BE(achieved),
	})
}

func (s *Server) workCancel(w http.ResponseWriter, req request) {
	hb, err := hexutil.DecodeFixed(req.Hash, powhash.HashSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid hash: "+err.Error())
		return
	}
	var hash [32]byte
	copy(hash[:], hb)

	s.dispatcher.Cancel(hash)
	// work_cancel always returns {} regardless of whether a match was
	// found, per spec §6's wire table.
	writeJSON(w, map[string]string{})
}

func (s *Server) benchmark(w http.ResponseWriter, req request) {
	threshold, err := hexutil.DecodeUint64BE(req.Threshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid threshold: "+err.Error())
		return
	}
	count, err := strconv.Atoi(req.Count)
	if err != nil || count < 0 {
		writeError(w, http.StatusBadRequest, "invalid count")
		return
	}

	var zeroHash [32]byte // the reference dummy hash per spec §4.5
	avgMs, durMs, err := s.dispatcher.Benchmark(zeroHash, threshold, count)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, map[string]string{
		"average":   strconv.FormatInt(avgMs, 10),
		"count":     strconv.Itoa(count),
		"duration":  strconv.FormatInt(durMs, 10),
		"hint":      "vite-work-server benchmark: sequential work_generate over a zero hash",
		"threshold": hexutil.EncodeUint64BE(threshold),
	})
}

func (s *Server) status(w http.ResponseWriter) {
	generating, queueSize := s.dispatcher.Status()
	g := "0"
	if generating {
		g = "1"
	}
	writeJSON(w, map[string]string{
		"generating": g,
		"queue_size": strconv.Itoa(queueSize),
	})
}

// writeEngineError translates internal/engine's sentinel errors into the
// HTTP bodies spec §7 specifies.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrCancelled):
		writeJSON(w, map[string]string{"error": "Cancelled"})
	case errors.Is(err, engine.ErrWorkerExhausted):
		writeJSON(w, map[string]string{"error": "No available work peers"})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
