package link

import (
	"errors"
	"fmt"

	"github.com/uptime-industries/pixcut-link/pkg/avocado/fragment"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/proto"
)

var ErrUnexpectedContent = errors.New("unexpected content")

// Route is the destination of a completed package.
type Route int

const (
	RouteNone Route = iota
	// RouteResponse carries JSON responses to calls issued by the host.
	RouteResponse
	// RouteRequest carries JSON requests issued by the device, i.e. events.
	RouteRequest
	// RouteData carries bulk data of any encoding.
	RouteData
)

func (r Route) String() string {
	switch r {
	case RouteResponse:
		return "response"
	case RouteRequest:
		return "request"
	case RouteData:
		return "data"
	default:
		return "none"
	}
}

// Classify determines where a completed package is delivered.
func Classify(pkg *fragment.Package) (Route, error) {
	switch pkg.Content {
	case proto.ContentData:
		return RouteData, nil
	case proto.ContentMessage:
		if pkg.Encoding != proto.EncodingJSON {
			break
		}
		switch pkg.Interaction {
		case proto.InteractionResponse:
			return RouteResponse, nil
		case proto.InteractionRequest:
			return RouteRequest, nil
		}
	}
	return RouteNone, fmt.Errorf("%w: %s/%s/%s message %d",
		ErrUnexpectedContent, pkg.Content, pkg.Interaction, pkg.Encoding, pkg.MessageNumber)
}

// MessageHandler receives JSON message packages. Calls are made from the
// receive path and must not block on the link.
type MessageHandler interface {
	HandleResponse(pkg *fragment.Package) error
	HandleRequest(pkg *fragment.Package) error
}
