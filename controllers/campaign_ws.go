package controller

import (
	"time"

	"github.com/gofiber/websocket/v2"

	"mailforge/utils"
)

const wsPingInterval = 30 * time.Second

// DispatchProgressWS streams the live events of a campaign's dispatch run to
// the client. When no run is in flight it reports idle and closes.
func (cc *CampaignController) DispatchProgressWS(conn *websocket.Conn) {
	defer conn.Close()

	campaignID, err := utils.ParseUint(conn.Params("id"))
	if err != nil {
		conn.WriteJSON(map[string]string{"type": "error", "message": "invalid campaign id"})
		return
	}

	cc.mu.Lock()
	run, ok := cc.runs[campaignID]
	cc.mu.Unlock()
	if !ok {
		conn.WriteJSON(map[string]string{"type": "idle"})
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case event, open := <-run.events:
			if !open {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
			if event.Type == "done" {
				return
			}
		case <-run.done:
			// Drain whatever the run emitted before finishing.
			for {
				select {
				case event := <-run.events:
					if conn.WriteJSON(event) != nil {
						return
					}
				default:
					conn.WriteJSON(map[string]string{"type": "done"})
					return
				}
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
