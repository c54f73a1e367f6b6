// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, static assets and the built-in test page.
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketHandler returns a handler that upgrades GET requests to WebSocket
// connections and registers the resulting clients with hub.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     hub.origins.checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		client := NewClient(conn, hub, r.RemoteAddr)

		// The hub launches the pump goroutines once the client is registered.
		if !hub.Register(client) {
			log.Printf("Hub is shutting down; rejecting client from %s", r.RemoteAddr)
			_ = conn.Close()
		}
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat server is running!")
}

// TestPageHandler serves a small HTML client that speaks the room protocol:
// enter a room, chat, see the roster, the room list and typing notices.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		log.Printf("Error writing HTML response: %v", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat Rooms</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .admin { color: gray; font-style: italic; }
        .own { color: blue; }
        #activity { height: 1.2em; color: #555; font-size: small; }
    </style>
</head>
<body>
    <h1>GoChat Rooms</h1>

    <form id="join">
        <input type="text" id="name" placeholder="Your name" maxlength="32" required>
        <input type="text" id="room" placeholder="Room" maxlength="32" required>
        <button type="submit">Join</button>
    </form>

    <div id="messages"></div>
    <div id="activity"></div>

    <form id="send">
        <input type="text" id="text" placeholder="Type a message..." required>
        <button type="submit">Send</button>
    </form>

    <p id="users"></p>
    <p id="rooms"></p>

    <script>
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
        const nameInput = document.getElementById('name');
        const roomInput = document.getElementById('room');
        const textInput = document.getElementById('text');
        const messages = document.getElementById('messages');
        const activity = document.getElementById('activity');
        let activityTimer;

        function emit(event, data) {
            if (ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ event: event, data: data }));
            }
        }

        document.getElementById('join').addEventListener('submit', function (e) {
            e.preventDefault();
            emit('enter-room', { name: nameInput.value, room: roomInput.value });
        });

        document.getElementById('send').addEventListener('submit', function (e) {
            e.preventDefault();
            emit('message', { name: nameInput.value, text: textInput.value });
            textInput.value = '';
        });

        textInput.addEventListener('keypress', function () {
            emit('activity', nameInput.value);
        });

        ws.onmessage = function (event) {
            const envelope = JSON.parse(event.data);
            const data = envelope.data;
            switch (envelope.event) {
            case 'message': {
                activity.textContent = '';
                const line = document.createElement('div');
                line.className = data.name === 'Admin' ? 'admin' : (data.name === nameInput.value ? 'own' : '');
                line.textContent = '[' + data.time + '] ' + data.name + ': ' + data.text;
                messages.appendChild(line);
                messages.scrollTop = messages.scrollHeight;
                break;
            }
            case 'activity':
                activity.textContent = data + ' is typing...';
                clearTimeout(activityTimer);
                activityTimer = setTimeout(function () { activity.textContent = ''; }, 3000);
                break;
            case 'userList':
                document.getElementById('users').textContent =
                    'Users in ' + roomInput.value + ': ' + data.users.map(function (u) { return u.name; }).join(', ');
                break;
            case 'roomList':
                document.getElementById('rooms').textContent = 'Active rooms: ' + data.rooms.join(', ');
                break;
            }
        };
    </script>
</body>
</html>`
