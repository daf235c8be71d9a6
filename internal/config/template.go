// ABOUTME: Starter configuration written by `hago init`
// ABOUTME: Seeds four sample conversations and the offline echo reply source

package config

// StarterYAML is a complete, valid configuration for a first run.
const StarterYAML = `# hago configuration
server:
  http_addr: "127.0.0.1:8080"
  grpc_addr: "127.0.0.1:50051"

# Audit ledger of finalized sends. Remove to disable.
database:
  path: "~/.local/share/hago/ledger.db"

auth:
  # Set to require bearer tokens on /api (mint with: hago token --sub me)
  jwt_secret: "${HAGO_JWT_SECRET}"

reply:
  provider: "echo"          # echo | gemini
  model: ""                 # gemini model, defaults to gemini-2.5-flash
  api_key: "${GEMINI_API_KEY}"
  fragment_delay: "60ms"    # echo pacing between fragments
  timeout: "0s"             # 0 disables the per-send deadline

user:
  id: "user-1"
  name: "You"

conversations:
  - id: "chat-1"
    participant: { id: "user-2", name: "Aisha Al-Farsi", avatar_url: "https://picsum.photos/seed/aisha/200" }
    messages:
      - { id: "msg-1", text: "Hey, are you free for the meeting tomorrow?", timestamp: "10:30 AM", sender_id: "user-2" }
      - { id: "msg-2", text: "Yes, I am! 2 PM works for me.", timestamp: "10:31 AM", sender_id: "user-1" }
  - id: "chat-2"
    participant: { id: "user-3", name: "Khalid Al-Mansoori", avatar_url: "https://picsum.photos/seed/khalid/200" }
    messages:
      - { id: "msg-3", text: "I've sent you the documents. Please review them.", timestamp: "Yesterday", sender_id: "user-3" }
  - id: "chat-3"
    participant: { id: "user-4", name: "Fatima Al-Nuaimi", avatar_url: "https://picsum.photos/seed/fatima/200" }
    messages:
      - { id: "msg-4", text: "Can you help me with the project? I am stuck.", timestamp: "Yesterday", sender_id: "user-4" }
  - id: "chat-4"
    participant: { id: "user-5", name: "Omar Abdullah", avatar_url: "https://picsum.photos/seed/omar/200" }
    messages:
      - { id: "msg-5", text: "Let's catch up this weekend!", timestamp: "Wednesday", sender_id: "user-1" }
      - { id: "msg-6", text: "Sounds great! What time?", timestamp: "Wednesday", sender_id: "user-5" }

logging:
  level: "info"
  format: "text"
`
