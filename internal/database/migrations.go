package database

const schema = `
CREATE TABLE IF NOT EXISTS emails (
    id TEXT NOT NULL,
    user_email TEXT NOT NULL,
    sender TEXT NOT NULL DEFAULT '',
    recipient TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    body_text TEXT,
    body_html TEXT,
    snippet TEXT,
    received_at DATETIME,
    thread_id TEXT,
    labels TEXT,
    has_attachments BOOLEAN DEFAULT false,
    attachment_count INTEGER DEFAULT 0,
    incomplete BOOLEAN DEFAULT false,
    processed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    priority TEXT,
    category TEXT,
    sentiment TEXT,
    summary TEXT,
    action_required BOOLEAN DEFAULT false,
    PRIMARY KEY (id, user_email)
);

CREATE TABLE IF NOT EXISTS credentials (
    user_email TEXT PRIMARY KEY,
    access_token TEXT NOT NULL DEFAULT '',
    refresh_token TEXT NOT NULL DEFAULT '',
    token_type TEXT NOT NULL DEFAULT 'Bearer',
    scope TEXT NOT NULL DEFAULT '',
    expires_at DATETIME,
    stored_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_emails_user ON emails(user_email);
CREATE INDEX IF NOT EXISTS idx_emails_received ON emails(user_email, received_at);
CREATE INDEX IF NOT EXISTS idx_emails_priority ON emails(user_email, priority);
`
