package store

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id             TEXT NOT NULL UNIQUE,
    instance_name       TEXT NOT NULL DEFAULT '',
    contributions_count INTEGER NOT NULL DEFAULT 0,
    created_at          DATETIME NOT NULL,
    last_active         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    name       TEXT NOT NULL UNIQUE,
    name_key   TEXT NOT NULL DEFAULT '',
    ean        TEXT NOT NULL DEFAULT '',
    created_by TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_name_key ON products(name_key);
CREATE INDEX IF NOT EXISTS idx_products_ean ON products(ean);

CREATE TABLE IF NOT EXISTS product_links (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id INTEGER NOT NULL REFERENCES products(id),
    shop_id    TEXT NOT NULL,
    url        TEXT NOT NULL,
    added_by   TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE(product_id, shop_id),
    UNIQUE(url)
);

CREATE INDEX IF NOT EXISTS idx_links_shop ON product_links(shop_id);

CREATE TABLE IF NOT EXISTS prices (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id INTEGER NOT NULL REFERENCES products(id),
    shop_id    TEXT NOT NULL,
    price      REAL NOT NULL,
    currency   TEXT NOT NULL DEFAULT 'PLN',
    price_type TEXT NOT NULL DEFAULT 'manual',
    url        TEXT NOT NULL DEFAULT '',
    user_id    TEXT NOT NULL,
    source     TEXT NOT NULL DEFAULT 'api',
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prices_product_shop ON prices(product_id, shop_id);
CREATE INDEX IF NOT EXISTS idx_prices_created_at ON prices(created_at);
CREATE INDEX IF NOT EXISTS idx_prices_user ON prices(user_id);

CREATE TABLE IF NOT EXISTS shop_configs (
    shop_id            TEXT PRIMARY KEY,
    name               TEXT NOT NULL,
    price_selectors    TEXT NOT NULL DEFAULT '{}',
    delivery_free_from REAL,
    delivery_cost      REAL,
    currency           TEXT NOT NULL DEFAULT 'PLN',
    search_config      TEXT NOT NULL DEFAULT '{}',
    updated_by         TEXT NOT NULL,
    updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS substitute_groups (
    group_id     TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    product_ids  TEXT NOT NULL DEFAULT '[]',
    priority_map TEXT NOT NULL DEFAULT '{}',
    settings     TEXT NOT NULL DEFAULT '{}',
    created_by   TEXT NOT NULL,
    created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_groups_name ON substitute_groups(name);
CREATE INDEX IF NOT EXISTS idx_groups_created_at ON substitute_groups(created_at);

-- Normalized membership: the primary key on product_id guarantees a product
-- belongs to at most one group as of any committed state.
CREATE TABLE IF NOT EXISTS group_members (
    product_id INTEGER PRIMARY KEY,
    group_id   TEXT NOT NULL REFERENCES substitute_groups(group_id)
);

CREATE INDEX IF NOT EXISTS idx_members_group ON group_members(group_id);
`
