package db

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tracked_wallets (
    address TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    added_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS markets (
    id TEXT PRIMARY KEY,
    slug TEXT NOT NULL,
    source TEXT NOT NULL,
    question TEXT NOT NULL,
    url TEXT NOT NULL,
    end_date TEXT NOT NULL DEFAULT '',
    token_ids TEXT,
    is_closed INTEGER NOT NULL DEFAULT 0,
    first_seen_at TEXT NOT NULL DEFAULT (datetime('now')),
    last_updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_markets_slug ON markets(slug);

CREATE TABLE IF NOT EXISTS market_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    market_id TEXT NOT NULL REFERENCES markets(id) ON DELETE CASCADE,
    yes_price REAL NOT NULL,
    no_price REAL NOT NULL,
    best_bid REAL NOT NULL DEFAULT 0,
    best_ask REAL NOT NULL DEFAULT 0,
    volume REAL NOT NULL,
    volume_24h REAL NOT NULL,
    liquidity REAL NOT NULL,
    snapshot_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_market_time ON market_snapshots(market_id, snapshot_at);

CREATE TABLE IF NOT EXISTS trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    wallet TEXT NOT NULL,
    side TEXT NOT NULL,
    outcome TEXT NOT NULL,
    price REAL NOT NULL,
    size REAL NOT NULL,
    traded_at INTEGER NOT NULL,
    slug TEXT NOT NULL,
    market_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    UNIQUE (wallet, slug, traded_at, side, outcome, price, size)
);
CREATE INDEX IF NOT EXISTS idx_trades_wallet_time ON trades(wallet, traded_at);
CREATE INDEX IF NOT EXISTS idx_trades_time ON trades(traded_at);

CREATE TABLE IF NOT EXISTS price_points (
    market_id TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    price REAL NOT NULL,
    PRIMARY KEY (market_id, observed_at)
);

CREATE TABLE IF NOT EXISTS book_quotes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    book_id TEXT NOT NULL,
    slug TEXT NOT NULL,
    title TEXT NOT NULL,
    position INTEGER NOT NULL,
    outcome TEXT NOT NULL,
    bid REAL NOT NULL,
    ask REAL NOT NULL,
    mid REAL NOT NULL,
    captured_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_book_quotes_book_time ON book_quotes(book_id, captured_at);

CREATE TABLE IF NOT EXISTS signal_runs (
    id TEXT PRIMARY KEY,
    trades INTEGER NOT NULL,
    markets INTEGER NOT NULL,
    books INTEGER NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS signals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES signal_runs(id) ON DELETE CASCADE,
    strategy TEXT NOT NULL,
    market_id TEXT NOT NULL,
    slug TEXT NOT NULL,
    question TEXT NOT NULL,
    score REAL NOT NULL,
    grade TEXT NOT NULL,
    direction TEXT NOT NULL,
    reason TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_signals_strategy ON signals(strategy, created_at);
CREATE INDEX IF NOT EXISTS idx_signals_run ON signals(run_id);
`
