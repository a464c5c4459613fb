package main

import (
	"net/http"
)

func serveChatPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(chat_page))
}

const chat_page = `<html>
	<head>
		<title> Dummy hub chat </title>
		<meta charset="utf-8" name="viewport" />

		<style>
			body {
				padding-left: 10%;
				padding-right: 10%;
				font-size: large;
			}
			div {
				display: flex;
				flex-direction: row;
				align-items: baseline;
				margin-bottom: 0.25em;
			}
			label {
				font-size: large;
			}
			input.text {
				margin-left: 1em;
				height: 2em;
				font-size: large;
			}
			input.button {
				height: 2em;
				font-size: large;
			}
			input.textbox {
				width: 90%;
				margin-right: 0.25em;
				margin-top: 0.25em;
				height: 2em;
				font-size: large;
			}
			div.textbox {
				display: block;
				width: 95%;
				height: 75%;
				margin-top: 0.25em;
				overflow-y: scroll;
				border: solid;
				padding: 1em;
			}
		</style>

		<script>
			let ws = null;
			let username = '';
			let decoder = new TextDecoder();

			let appendMsg = function(msg) {
				let chat = document.getElementById('chat');
				let p = document.createElement('p');
				p.textContent = msg;
				chat.appendChild(p);
				chat.scrollTo(0, chat.scrollHeight);
			}

			let invoke = function(methodName, ...args) {
				if (ws == null) {
					appendMsg('Not connected!');
					return;
				}
				ws.send(JSON.stringify({methodName: methodName, args: args}));
			}

			let wsRecv = function(e) {
				let msg = JSON.parse(decoder.decode(e.data));
				switch (msg.methodName) {
				case 'Hello':
					appendMsg('Connected as ' + msg.args[0].clientId);
					break;
				case 'ReceiveMessage':
					let [date, group, from, text] = msg.args;
					let where = group != '' ? ' @' + group : '';
					let who = from != '' ? from + ': ' : '';
					appendMsg(date + where + ' > ' + who + text);
					break;
				}
			}

			let wsClose = function(e) {
				appendMsg('Connection to the hub was closed! (' + e.code + ')');
				ws = null;
			}

			let connect = function() {
				let ufield = document.getElementById('username');
				username = ufield.value;

				if (ws != null) {
					ws.close()
					ws = null;
				}

				ws = new WebSocket('ws://' + window.location.host + '/hub?user=' + encodeURIComponent(username))
				ws.binaryType = 'arraybuffer';
				ws.addEventListener('message', wsRecv)
				ws.addEventListener('close', wsClose)
			}

			// Messages starting with a '/' are commands:
			//   /join group, /leave group, /to user text, /group group text
			// Anything else is broadcast to everyone.
			let send = function() {
				let mfield = document.getElementById('message');

				let msg = mfield.value;
				if (msg == '') {
					return;
				}

				let parts = msg.split(' ');
				switch (parts[0]) {
				case '/join':
					invoke('JoinGroup', parts[1]);
					break;
				case '/leave':
					invoke('LeaveGroup', parts[1]);
					break;
				case '/to':
					invoke('SendMessage', parts[1], parts.slice(2).join(' '));
					break;
				case '/group':
					invoke('SendMessageToGroup', parts[1], parts.slice(2).join(' '));
					break;
				default:
					invoke('Broadcast', msg);
				}

				mfield.value = '';
			}

			let on_boot = function (e) {
				let mfield = document.getElementById('message');
				mfield.addEventListener('keyup', function (e) {
					if (e.key == 'Enter') {
						send();
					}
				});
			}
			document.addEventListener('DOMContentLoaded', on_boot);
		</script>
	</head>

	<body>
		<div>
			<label for='username'> Username: </label>
			<input class='text' type='text' id='username' name='username'>
		</div>
		<div>
			<input class='button' onclick="connect();" type="button" value="Connect">
		</div>

		<div class='textbox' id='chat'> </div>

		<div>
			<input class='textbox' type='text' id='message' name='message'>
			<input class='button' onclick="send();" type="button" value="Send">
		</div>
	</body>
</html>`
