// Package apierr writes the three port error taxonomies to an HTTP
// response body with the status mapping defined in spec §7: expected
// kinds surface their message verbatim, System kinds are logged and
// answered with a generic string.
package apierr

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/NicoZweifel/aquila/pkg/autherr"
	"github.com/NicoZweifel/aquila/pkg/computeerr"
	"github.com/NicoZweifel/aquila/pkg/storeerr"
)

type body struct {
	Error string `json:"error"`
}

func write(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body{Error: message})
}

// Write inspects err against the three known taxonomies and responds
// accordingly. Unrecognized errors are treated as a generic 500.
func Write(log *logrus.Logger, w http.ResponseWriter, r *http.Request, err error) {
	switch e := err.(type) {
	case *storeerr.Error:
		writeKind(log, w, r, e.Kind.HTTPStatus(), e.Kind == storeerr.System, e)
	case *autherr.Error:
		writeKind(log, w, r, e.Kind.HTTPStatus(), e.Kind == autherr.System, e)
	case *computeerr.Error:
		writeKind(log, w, r, e.Kind.HTTPStatus(), e.Kind == computeerr.System, e)
	default:
		log.WithError(err).WithField("path", r.URL.Path).Error("unhandled error")
		write(w, http.StatusInternalServerError, "internal error")
	}
}

func writeKind(log *logrus.Logger, w http.ResponseWriter, r *http.Request, status int, isSystem bool, err error) {
	if isSystem {
		log.WithError(err).WithField("path", r.URL.Path).Error("system error")
		write(w, status, "internal error")
		return
	}
	write(w, status, err.Error())
}
