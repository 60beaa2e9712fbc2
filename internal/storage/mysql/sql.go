package mysql

// LAST_INSERT_ID(id) makes the existing row's id visible to LastInsertId on
// the duplicate path, so one statement covers get-or-create.
const upsertAgencySQL = `
INSERT INTO agencies (name, logo_url)
VALUES (?, ?)
ON DUPLICATE KEY UPDATE
  id       = LAST_INSERT_ID(id),
  logo_url = COALESCE(VALUES(logo_url), agencies.logo_url)
`

const insertPropertySQL = `
INSERT INTO properties
  (reference, title, type, location, price_minor, details_url, description,
   agency_id, phone_link, email_link, whatsapp_link,
   land_surface, interior_surface, swimming_pool, construction_year,
   bedrooms, bathrooms, toilets, aircon, accessible_to_foreigners,
   general_features, indoor_features, outdoor_features, location_description,
   sold, date_added, last_updated)
VALUES
  (?, ?, ?, ?, ?, ?, ?,
   ?, ?, ?, ?,
   ?, ?, ?, ?,
   ?, ?, ?, ?, ?,
   ?, ?, ?, ?,
   FALSE, ?, ?)
`

const insertHistorySQL = `
INSERT INTO price_history (property_id, price_minor, observed_at)
SELECT id, ?, ? FROM properties WHERE reference = ?
`

const updatePriceSQL = `
UPDATE properties
SET price_minor = ?, last_updated = ?, sold = FALSE
WHERE reference = ?
`

const markStaleSQL = `
UPDATE properties SET sold = TRUE
WHERE sold = FALSE AND last_updated < ?
`

const selectStaleSQL = `
SELECT reference FROM properties
WHERE sold = FALSE AND last_updated < ?
ORDER BY reference
FOR UPDATE
`

// -----------------------------------------------------------------------------
// READ QUERIES
// -----------------------------------------------------------------------------

const getPropertySQL = `
SELECT
  p.id, p.reference, p.title, p.type, p.location, p.price_minor, p.details_url, p.description,
  a.id, a.name, a.logo_url,
  p.phone_link, p.email_link, p.whatsapp_link,
  p.land_surface, p.interior_surface, p.swimming_pool, p.construction_year,
  p.bedrooms, p.bathrooms, p.toilets, p.aircon, p.accessible_to_foreigners,
  p.general_features, p.indoor_features, p.outdoor_features, p.location_description,
  p.sold, p.date_added, p.last_updated
FROM properties p
LEFT JOIN agencies a ON a.id = p.agency_id
WHERE p.reference = ?
`

const priceHistorySQL = `
SELECT p.reference, h.price_minor, h.observed_at
FROM price_history h
JOIN properties p ON p.id = h.property_id
WHERE p.reference = ?
ORDER BY h.observed_at
`

const propertyExistsSQL = `SELECT 1 FROM properties WHERE reference = ?`

const listReferencesSQL = `SELECT reference FROM properties ORDER BY reference`

const listUnsoldReferencesSQL = `SELECT reference FROM properties WHERE sold = FALSE ORDER BY reference`

const listUnsoldLinksSQL = `SELECT reference, details_url FROM properties WHERE sold = FALSE ORDER BY reference`
