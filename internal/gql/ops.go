package gql

// Operation ids pin a persisted query hash to its name. The name doubles as
// the queue name, so rate limits are tracked per operation.
const (
	OpSearchTimeline           = "jiR2G5DAUAraqAYpcg9O-g/SearchTimeline"
	OpUserByRestID             = "LWxkCeL8Hlx0-f24DmPAJw/UserByRestId"
	OpUserByScreenName         = "QGIw94L0abhuohrr76cSbw/UserByScreenName"
	OpTweetDetail              = "GtcBtFhtQymrpxAs5MALVA/TweetDetail"
	OpFollowers                = "r4fuEJKOqqzaYcvJU5ZWVA/Followers"
	OpFollowing                = "PgxzDG3JdZLoesQh41mcRw/Following"
	OpRetweeters               = "VCx3-p7GvELPtH0QHQcA0g/Retweeters"
	OpFavoriters               = "DDetc9RS4TZduc7kFfaFSA/Favoriters"
	OpUserTweets               = "bDGQZ9i975PnuFhihvzGug/UserTweets"
	OpUserTweetsAndReplies     = "bZ1YnUB32SSAfKXRwDM3jw/UserTweetsAndReplies"
	OpListLatestTweetsTimeline = "h-sxfUsIzy307vKGGTJR4g/ListLatestTweetsTimeline"
	OpLikes                    = "8RCkxWhvFsJ8XZeNf_z5IQ/Likes"
	OpBlueVerifiedFollowers    = "srYtCtUs5BuBPbYj7agW6A/BlueVerifiedFollowers"
	OpUserCreatorSubscriptions = "uFQJ--8sayYPxBqxav4W7A/UserCreatorSubscriptions"
	OpUserMedia                = "BGmkmGDG0kZPM-aoQtNTTw/UserMedia"
	OpBookmarks                = "fa4kwoT3j5eDJCSKwFDXCw/Bookmarks"
)

const defaultBaseURL = "https://x.com/i/api/graphql"

// baseFeatures is sent with every operation; per-op supplements are merged on
// top. Values mirror what the web client sends.
var baseFeatures = map[string]any{
	"articles_preview_enabled": false,
	"c9s_tweet_anatomy_moderator_badge_enabled": true,
	"communities_web_enable_tweet_community_results_fetch": true,
	"creator_subscriptions_quote_tweet_preview_enabled": false,
	"creator_subscriptions_tweet_preview_api_enabled": true,
	"freedom_of_speech_not_reach_fetch_enabled": true,
	"graphql_is_translatable_rweb_tweet_is_translatable_enabled": true,
	"longform_notetweets_consumption_enabled": true,
	"longform_notetweets_inline_media_enabled": true,
	"longform_notetweets_rich_text_read_enabled": true,
	"responsive_web_edit_tweet_api_enabled": true,
	"responsive_web_enhance_cards_enabled": false,
	"responsive_web_graphql_exclude_directive_enabled": true,
	"responsive_web_graphql_skip_user_profile_image_extensions_enabled": false,
	"responsive_web_graphql_timeline_navigation_enabled": true,
	"responsive_web_media_download_video_enabled": false,
	"responsive_web_twitter_article_tweet_consumption_enabled": true,
	"rweb_tipjar_consumption_enabled": true,
	"rweb_video_timestamps_enabled": true,
	"standardized_nudges_misinfo": true,
	"tweet_awards_web_tipping_enabled": false,
	"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled": true,
	"tweet_with_visibility_results_prefer_gql_media_interstitial_enabled": false,
	"tweetypie_unmention_optimization_enabled": true,
	"verified_phone_label_enabled": false,
	"view_counts_everywhere_api_enabled": true,
	"responsive_web_grok_analyze_button_fetch_trends_enabled": false,
	"premium_content_api_read_enabled": false,
	"profile_label_improvements_pcf_label_in_post_enabled": false,
	"responsive_web_grok_share_attachment_enabled": false,
	"responsive_web_grok_analyze_post_followups_enabled": false,
}

// fieldToggles carries per-queue toggle blobs the remote expects verbatim.
var fieldToggles = map[string]string{
	"SearchTimeline": `{"withArticleRichContentState":false}`,
	"ListLatestTweetsTimeline": `{"withArticleRichContentState":false}`,
	"UserMedia": `{"withArticlePlainText":false}`,
}
